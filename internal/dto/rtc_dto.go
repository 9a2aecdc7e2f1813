package dto

// IceServer mirrors the RTCIceServer shape browsers expect.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type IceConfigResponse struct {
	IceServers []IceServer `json:"iceServers"`
}
