package installation

import "encoding/json"

// Installation is one security installation attached to the account, as
// returned by the mkInstallationList query.
type Installation struct {
	NumInst  string `json:"numinst"`
	Alias    string `json:"alias"`
	Panel    string `json:"panel"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Address  string `json:"address"`
	City     string `json:"city"`
	PostCode string `json:"postcode"`
	Province string `json:"province"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Due      string `json:"due,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Service is a single vendor service on an installation. Request carries
// the keyword the panel command mutations expect, for example "ARM1" or
// "PERI1". The nested config and attribute blobs vary per service and are
// kept raw.
type Service struct {
	IDService             string          `json:"idService"`
	Active                bool            `json:"active"`
	Visible               bool            `json:"visible"`
	BDE                   string          `json:"bde,omitempty"`
	IsPremium             bool            `json:"isPremium,omitempty"`
	CodOper               string          `json:"codOper,omitempty"`
	Request               string          `json:"request,omitempty"`
	MinWrapperVersion     string          `json:"minWrapperVersion,omitempty"`
	UnprotectActive       bool            `json:"unprotectActive,omitempty"`
	UnprotectDeviceStatus bool            `json:"unprotectDeviceStatus,omitempty"`
	InstDate              string          `json:"instDate,omitempty"`
	GenericConfig         json.RawMessage `json:"genericConfig,omitempty"`
	Attributes            json.RawMessage `json:"attributes,omitempty"`
}

// InstallationDetail is the per-installation block of the Srv response:
// panel identity, capabilities token and the service list.
type InstallationDetail struct {
	NumInst        string         `json:"numinst"`
	Role           string         `json:"role"`
	Alias          string         `json:"alias"`
	Status         string         `json:"status"`
	Panel          string         `json:"panel"`
	SIM            string         `json:"sim"`
	InstIBS        string         `json:"instIbs"`
	Services       []Service      `json:"services"`
	ConfigRepoUser map[string]any `json:"configRepoUser,omitempty"`
	Capabilities   string         `json:"capabilities"`
}

// Services is the full Srv response for one installation.
type Services struct {
	Res          string             `json:"res"`
	Msg          string             `json:"msg,omitempty"`
	Language     string             `json:"language,omitempty"`
	Installation InstallationDetail `json:"installation"`
}

// ServiceByRequest returns the service whose request keyword matches,
// for checking what the panel supports.
func (s *Services) ServiceByRequest(request string) (Service, bool) {
	for _, svc := range s.Installation.Services {
		if svc.Request == request {
			return svc, true
		}
	}
	return Service{}, false
}
