package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	pkghttputil "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/httputil"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/logger"
	pkgmiddleware "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/middleware"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/services/gateway/internal/config"
)

// Upstream names.
const (
	Auth = "auth"
	API  = "api"
)

// AuthPrefix is stripped before requests reach the auth service.
const AuthPrefix = "/api/v1/auth"

// Route describes one upstream behind the gateway.
type Route struct {
	Name        string
	TargetURL   string
	StripPrefix string
}

// ServiceProxy manages reverse proxies to the upstream services.
type ServiceProxy struct {
	routes map[string]*httputil.ReverseProxy
	logger *slog.Logger
}

// NewServiceProxy creates the auth and API proxies from cfg.
func NewServiceProxy(cfg *config.Config, logger *slog.Logger) (*ServiceProxy, error) {
	return New([]Route{
		{Name: Auth, TargetURL: cfg.AuthServiceURL, StripPrefix: AuthPrefix},
		{Name: API, TargetURL: cfg.APIServiceURL},
	}, cfg.ProxyResponseTimeout, logger)
}

// New creates a ServiceProxy for routes sharing one transport.
func New(routes []Route, responseTimeout time.Duration, logger *slog.Logger) (*ServiceProxy, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: responseTimeout,
		ExpectContinueTimeout: time.Second,
	}

	sp := &ServiceProxy{
		routes: make(map[string]*httputil.ReverseProxy, len(routes)),
		logger: logger,
	}

	for _, route := range routes {
		target, err := url.Parse(route.TargetURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid %s upstream URL %q", route.Name, route.TargetURL)
		}

		sp.routes[route.Name] = &httputil.ReverseProxy{
			Rewrite:      rewrite(target, route.StripPrefix),
			Transport:    transport,
			ErrorHandler: sp.errorHandler(route.Name),
		}

		logger.Info("registered service proxy",
			slog.String("service", route.Name),
			slog.String("target", route.TargetURL),
		)
	}

	return sp, nil
}

func rewrite(target *url.URL, stripPrefix string) func(*httputil.ProxyRequest) {
	return func(pr *httputil.ProxyRequest) {
		pr.SetURL(target)
		pr.SetXForwarded()
		if pr.Out.Header.Get(pkgmiddleware.CorrelationHeader) == "" {
			if id := logger.CorrelationIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set(pkgmiddleware.CorrelationHeader, id)
			}
		}

		if stripPrefix == "" {
			return
		}
		rest := strings.TrimPrefix(pr.In.URL.Path, stripPrefix)
		pr.Out.URL.Path = strings.TrimSuffix(target.Path, "/") + "/" + strings.TrimPrefix(rest, "/")
		pr.Out.URL.RawPath = ""
	}
}

// Handler returns the proxy for the named upstream.
func (sp *ServiceProxy) Handler(serviceName string) http.Handler {
	proxy, ok := sp.routes[serviceName]
	if !ok {
		sp.logger.Error("no proxy registered for service", slog.String("service", serviceName))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeBadGateway(w, r, "service not configured")
		})
	}
	return proxy
}

// errorHandler logs transport failures and answers 502.
func (sp *ServiceProxy) errorHandler(serviceName string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		sp.logger.ErrorContext(r.Context(), "proxy error",
			slog.String("service", serviceName),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeBadGateway(w, r, "upstream service unavailable")
	}
}

func writeBadGateway(w http.ResponseWriter, r *http.Request, message string) {
	pkghttputil.WriteJSON(w, http.StatusBadGateway, pkghttputil.Response{
		Error: &pkghttputil.ErrorResponse{
			Code:      "BAD_GATEWAY",
			Message:   message,
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}
