package agent

// Manifest describes one registered agent.
type Manifest struct {
	// AgentName is the unique registry key and graph node name.
	AgentName string `yaml:"agent_name" json:"agent_name"`
	// NodeClassPath selects the factory that builds the agent.
	NodeClassPath string `yaml:"node_class_path" json:"node_class_path"`
	// Enabled gates routing to the agent.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Metadata carries free-form descriptive fields.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// manifestFile is the YAML schema of the registry source file.
type manifestFile struct {
	Agents []*Manifest `yaml:"agents"`
}

// Well-known agent names.
const (
	NameDatab   = "capi_datab"
	NameGus     = "capi_gus"
	NameDesktop = "capi_desktop"
	NameElCajas = "capi_elcajas"
	NameAlertas = "capi_alertas"
	NameAgenteG = "agente_g"
	NameSummary = "summary"
	NameBranch  = "branch"
	NameAnomaly = "anomaly"
)

// DefaultManifests returns the built-in agent set, all enabled. Used
// when no manifest file is configured.
func DefaultManifests() []*Manifest {
	names := []string{
		NameDatab, NameGus, NameDesktop, NameElCajas, NameAlertas,
		NameAgenteG, NameSummary, NameBranch, NameAnomaly,
	}
	manifests := make([]*Manifest, 0, len(names))
	for _, name := range names {
		manifests = append(manifests, &Manifest{
			AgentName:     name,
			NodeClassPath: "agents." + name,
			Enabled:       true,
		})
	}
	return manifests
}
