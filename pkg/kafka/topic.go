package kafka

import "fmt"

// TopicPrefix is the namespace shared by all ShareUpTime topics.
const TopicPrefix = "shareuptime"

// Topic builds a fully-qualified topic name, e.g. shareuptime.user.registered.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}
