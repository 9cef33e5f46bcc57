package scheduler

import (
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"github.com/tandemflow/tandem/pkg/a2a"
	"github.com/tandemflow/tandem/pkg/graph"
)

// FollowUpTask is a node descriptor an agent emits in its output
// metadata to grow the graph mid-run.
type FollowUpTask struct {
	ID        string   `mapstructure:"id"`
	Agent     string   `mapstructure:"agent"`
	Input     string   `mapstructure:"input"`
	DependsOn []string `mapstructure:"dependsOn"`
	NoCache   bool     `mapstructure:"noCache"`
}

// grow expands followUpTasks descriptors from a completed node's output
// into new graph nodes. The producing node is the implicit dependency
// unless a descriptor declares its own. Malformed descriptors are
// logged and dropped; the run keeps going.
func (s *Scheduler) grow(g *graph.Graph, producerID string, output *a2a.Envelope, log *slog.Logger) {
	if output == nil || output.Metadata == nil {
		return
	}
	raw, ok := output.Metadata[MetadataFollowUps]
	if !ok {
		return
	}

	var tasks []FollowUpTask
	if err := mapstructure.Decode(raw, &tasks); err != nil {
		log.Warn("undecodable follow-up tasks", "node", producerID, "error", err)
		return
	}

	for _, t := range tasks {
		if t.ID == "" || t.Agent == "" {
			log.Warn("follow-up task missing id or agent", "node", producerID)
			continue
		}
		deps := t.DependsOn
		if len(deps) == 0 {
			deps = []string{producerID}
		}

		input := a2a.NewTextEnvelope(a2a.RoleUser, t.Input)
		input.TaskID = t.ID
		input.SetMetadata("spawnedBy", producerID)
		node := &graph.Node{
			ID:        t.ID,
			Agent:     t.Agent,
			DependsOn: deps,
			Input:     input,
			NoCache:   t.NoCache,
		}

		if err := g.AddNode(node); err != nil {
			log.Warn("follow-up task rejected", "node", t.ID, "producer", producerID, "error", err)
			continue
		}
		log.Debug("graph grown", "node", t.ID, "producer", producerID, "deps", deps)
	}
}
