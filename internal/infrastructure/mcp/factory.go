package mcp

import (
	"fmt"
	"log/slog"
	"time"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
)

// ConnectorFactory は Descriptor の通信方式に応じた Connector を作成する
type ConnectorFactory struct {
	timeout time.Duration
	catalog *domainmcp.Catalog
	version string
	logger  *slog.Logger
}

// NewConnectorFactory は新しい ConnectorFactory を作成
func NewConnectorFactory(timeout time.Duration, catalog *domainmcp.Catalog, version string, logger *slog.Logger) *ConnectorFactory {
	if catalog == nil {
		catalog = domainmcp.DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectorFactory{
		timeout: timeout,
		catalog: catalog,
		version: version,
		logger:  logger,
	}
}

// New は domainmcp.Factory を実装
func (f *ConnectorFactory) New(d domainmcp.Descriptor) (domainmcp.Connector, error) {
	switch d.ResolveTransport() {
	case domainmcp.TransportHTTP:
		queryOps := d.QueryOperations
		if len(queryOps) == 0 {
			queryOps = f.catalog.QueryOperations()
		}
		return NewHTTPConnector(d, f.timeout, queryOps, f.logger), nil
	case domainmcp.TransportWebSocket:
		return NewWebSocketConnector(d, f.timeout, f.logger), nil
	case domainmcp.TransportStdio, domainmcp.TransportStreamableHTTP:
		return NewSDKConnector(d, f.timeout, f.version, f.logger), nil
	default:
		return nil, fmt.Errorf("backend '%s': unsupported transport for address %q", d.Name, d.Address)
	}
}
