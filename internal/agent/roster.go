package agent

import (
	"github.com/makeasinger/studio/internal/memory"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/tools"
)

// Roster holds the four studio agents. It is built once at start and
// shared by every run.
type Roster struct {
	Producer   *Agent
	Critic     *Agent
	Lyricist   *Agent
	Visualizer *Agent
}

// ModelIDs maps each role to its model id
type ModelIDs map[model.AgentRole]string

// NewRoster binds every role to llm. searcher may be nil.
func NewRoster(llm Model, ids ModelIDs, contract *tools.Contract, searcher memory.Searcher) *Roster {
	if searcher == nil {
		searcher = memory.Noop{}
	}
	return &Roster{
		Producer: &Agent{
			role:        model.RoleProducer,
			modelID:     ids[model.RoleProducer],
			description: producerDescription,
			allowed:     []string{tools.NameConfigureStudio, tools.NameUpdateLyrics, tools.NameGenerateCoverArt},
			llm:         llm,
			contract:    contract,
		},
		Critic: &Agent{
			role:        model.RoleCritic,
			modelID:     ids[model.RoleCritic],
			description: criticDescription,
			llm:         llm,
			contract:    contract,
		},
		Lyricist: &Agent{
			role:        model.RoleLyricist,
			modelID:     ids[model.RoleLyricist],
			description: lyricistDescription,
			allowed:     []string{tools.NameUpdateLyrics},
			llm:         llm,
			contract:    contract,
			memory:      searcher,
		},
		Visualizer: &Agent{
			role:        model.RoleVisualizer,
			modelID:     ids[model.RoleVisualizer],
			description: visualizerDescription,
			allowed:     []string{tools.NameGenerateCoverArt},
			llm:         llm,
			contract:    contract,
		},
	}
}
