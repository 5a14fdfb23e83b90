package domain

// Persisted state keys. Values are JSON encoded by the state store.
const (
	KeyIgnoredHosts                       = "ignoredHosts"
	KeyEnableExtension                    = "enableExtension"
	KeyProxyServerURI                     = "proxyServerURI"
	KeyCustomProxyServerURI               = "customProxyServerURI"
	KeyProxyPingURI                       = "proxyPingURI"
	KeyUseProxy                           = "useProxy"
	KeyProxyIsAlive                       = "proxyIsAlive"
	KeyBadProxies                         = "badProxies"
	KeyPrivateBrowsingPermissionsRequired = "privateBrowsingPermissionsRequired"

	KeyRegistryDomains      = "registryDomains"
	KeyRegistryDistributors = "registryDistributors"
	KeyRegistryLastSync     = "registryLastSync"
)
