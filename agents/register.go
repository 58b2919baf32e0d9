package agents

import (
	"github.com/capiware/capi-orchestrator/agent"
)

// RegisterBuiltins binds the built-in agent factories to their node
// class paths. Call before the first Instantiate.
func RegisterBuiltins(reg *agent.Registry) {
	factories := map[string]agent.Factory{
		agent.NameDatab:   NewDatab,
		agent.NameGus:     NewGus,
		agent.NameDesktop: NewDesktop,
		agent.NameElCajas: NewElCajas,
		agent.NameAlertas: NewAlertas,
		agent.NameAgenteG: NewAgenteG,
		agent.NameSummary: NewSummary,
		agent.NameBranch:  NewBranch,
		agent.NameAnomaly: NewAnomaly,
	}
	for name, factory := range factories {
		reg.RegisterFactory("agents."+name, factory)
	}
}
