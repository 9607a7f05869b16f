package radarr

// SystemStatus is the subset of GET /api/v3/system/status used for probing.
type SystemStatus struct {
	AppName      string `json:"appName"`
	InstanceName string `json:"instanceName"`
	Version      string `json:"version"`
	Branch       string `json:"branch"`
}
