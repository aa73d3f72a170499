package vast

// Offer is a rentable machine advertisement returned by the marketplace.
// Offers are immutable snapshots; a stale offer may be rejected at
// create time.
type Offer struct {
	ID            int64   `json:"id"`
	GPUName       string  `json:"gpu_name"`
	GPURAMMB      float64 `json:"gpu_ram"`
	GPUTotalRAMMB float64 `json:"gpu_totalram"`
	NumGPUs       int     `json:"num_gpus"`
	CPUName       string  `json:"cpu_name"`
	CPURAMMB      float64 `json:"cpu_ram"`
	DPHTotal      float64 `json:"dph_total"`
	TotalFlops    float64 `json:"total_flops"`
	InetUp        float64 `json:"inet_up"`
	InetDown      float64 `json:"inet_down"`
	Verification  string  `json:"verification"`
	StaticIP      bool    `json:"static_ip"`
	DiskSpace     float64 `json:"disk_space"`
	Reliability   float64 `json:"reliability2"`
}

// PortMapping is one host-side binding of a container port.
type PortMapping struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// Instance is a rented machine as reported by the marketplace. Endpoint
// is not a wire field; the controller injects it from the registry.
type Instance struct {
	ID             int64                    `json:"id"`
	ActualStatus   string                   `json:"actual_status"`
	IntendedStatus string                   `json:"intended_status"`
	CurState       string                   `json:"cur_state"`
	StatusMsg      string                   `json:"status_msg"`
	PublicIPAddr   string                   `json:"public_ipaddr"`
	Ports          map[string][]PortMapping `json:"ports"`
	StartDate      float64                  `json:"start_date"`
	GPUName        string                   `json:"gpu_name"`
	NumGPUs        int                      `json:"num_gpus"`
	GPURAMMB       float64                  `json:"gpu_ram"`
	DPHTotal       float64                  `json:"dph_total"`
	TotalFlops     float64                  `json:"total_flops"`
	DiskSpace      float64                  `json:"disk_space"`
	InetUp         float64                  `json:"inet_up"`
	InetDown       float64                  `json:"inet_down"`

	Endpoint string `json:"-"`
}

// OfferFilter is the caller-side view of an offer query.
type OfferFilter struct {
	GPURAMMB    float64
	DiskGB      float64
	PublicIP    bool
	MinGPUs     int
	MaxGPUs     int
	MinInetDown float64
	Limit       int
}

type gte struct {
	Gte float64 `json:"gte"`
}

type gteLte struct {
	Gte int `json:"gte"`
	Lte int `json:"lte"`
}

type eqBool struct {
	Eq bool `json:"eq"`
}

// offerQuery is the marketplace's server-side filter grammar. The field
// set emitted here is fixed; the server ignores what it does not know.
type offerQuery struct {
	Reliability      gte        `json:"reliability2"`
	DiskSpace        gte        `json:"disk_space"`
	Rentable         eqBool     `json:"rentable"`
	NumGPUs          gteLte     `json:"num_gpus"`
	GPUTotalRAM      gte        `json:"gpu_totalram"`
	DirectPortCount  gte        `json:"direct_port_count"`
	InetDown         gte        `json:"inet_down"`
	AllocatedStorage float64    `json:"allocated_storage"`
	Order            [][]string `json:"order"`
	Type             string     `json:"type"`
	StaticIP         *eqBool    `json:"static_ip,omitempty"`
}

type offersResponse struct {
	Offers []Offer `json:"offers"`
}

type createRequest struct {
	ClientID     string            `json:"client_id"`
	Image        string            `json:"image"`
	Env          map[string]string `json:"env"`
	RunType      string            `json:"runtype"`
	UseJupyter   bool              `json:"use_jupyter_lab"`
	DiskGB       float64           `json:"disk"`
}

type createResponse struct {
	Success     bool   `json:"success"`
	NewContract int64  `json:"new_contract"`
	Msg         string `json:"msg"`
}

type instancesResponse struct {
	Instances []Instance `json:"instances"`
}

type destroyResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

type logsResponse struct {
	Success   bool   `json:"success"`
	ResultURL string `json:"result_url"`
}
