package types

// ModuleInfo is the presence and capability record board discovery reports
// for one module. The core only reads it.
type ModuleInfo struct {
	ID                     ModuleID `json:"id"`
	Name                   string   `json:"name"`
	Present                bool     `json:"present"`
	ImplementationRevision uint8    `json:"revision"`
}

// BoardInfo describes the discovered board itself
type BoardInfo struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
}
