package workflow

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mpeters8/flowrun/internal/errors"
)

// LoadOptions adjust definition loading.
type LoadOptions struct {
	// DeriveStageIDs fills missing stage ids from stage names
	// (CORE_STAGE_DEFAULT_ID).
	DeriveStageIDs bool
}

// Load reads and validates a workflow definition file.
func Load(path string, opts LoadOptions) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindDefinition, err, "read workflow %q", path)
	}
	return Parse(data, opts)
}

// Parse decodes and validates a workflow definition document.
func Parse(data []byte, opts LoadOptions) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, errors.Wrap(errors.KindDefinition, err, "parse workflow definition")
	}

	// Recover job declaration order; a plain map decode loses it.
	order, err := jobOrder(data)
	if err != nil {
		return nil, err
	}
	wf.JobOrder = order
	for id, job := range wf.Jobs {
		if job == nil {
			return nil, errors.Definition("job %q is empty", id)
		}
		job.ID = id
	}

	if err := wf.Validate(opts.DeriveStageIDs); err != nil {
		return nil, err
	}
	return &wf, nil
}

// jobOrder reads the jobs mapping keys in document order.
func jobOrder(data []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.KindDefinition, err, "parse workflow definition")
	}
	if len(doc.Content) == 0 {
		return nil, errors.Definition("empty workflow definition")
	}
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "jobs" {
			continue
		}
		jobs := root.Content[i+1]
		order := make([]string, 0, len(jobs.Content)/2)
		for j := 0; j+1 < len(jobs.Content); j += 2 {
			order = append(order, jobs.Content[j].Value)
		}
		return order, nil
	}
	return nil, nil
}
