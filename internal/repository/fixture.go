package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// scenarioSchemaJSON constrains the shape a scenario fixture must have
// before it is accepted into a FixtureRepository: a scenario_id,
// a non-empty steps array, and every step carrying an id/type. Validated
// by compiling this schema once and checking every loaded document
// against it with santhosh-tekuri/jsonschema/v6, the same
// compile-then-validate shape used for tool-call payload validation
// elsewhere in this stack.
const scenarioSchemaJSON = `{
  "type": "object",
  "required": ["scenario_id", "steps"],
  "properties": {
    "scenario_id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "version": {"type": "string"},
    "description": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

// agentSchemaJSON constrains agent fixture documents: an id is required;
// everything else is optional configuration.
const agentSchemaJSON = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "scenario_id": {"type": "string"},
    "plugins": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	scenarioSchema     *jsonschema.Schema
	agentSchema        *jsonschema.Schema
	compileSchemasOnce sync.Once
	compileSchemasErr  error
)

func compiledSchemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	compileSchemasOnce.Do(func() {
		scenarioSchema, compileSchemasErr = compileSchema("scenario.json", scenarioSchemaJSON)
		if compileSchemasErr != nil {
			return
		}
		agentSchema, compileSchemasErr = compileSchema("agent.json", agentSchemaJSON)
	})
	return scenarioSchema, agentSchema, compileSchemasErr
}

func compileSchema(resourceName, schemaJSON string) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		return nil, fmt.Errorf("repository: unmarshal %s schema: %w", resourceName, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("repository: add %s schema resource: %w", resourceName, err)
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("repository: compile %s schema: %w", resourceName, err)
	}
	return schema, nil
}

// yamlStep/yamlBranch/yamlScenario/yamlAgent mirror scenarioDocument's BSON
// shape with YAML tags, since a fixture file is authored by hand rather
// than round-tripped through Mongo.
type yamlBranch struct {
	Condition string `yaml:"condition"`
	NextStep  any    `yaml:"next_step"`
}

type yamlStep struct {
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	Params   map[string]any `yaml:"params"`
	NextStep any            `yaml:"next_step"`
	Branches []yamlBranch   `yaml:"branches"`
}

type yamlScenario struct {
	ScenarioID      string         `yaml:"scenario_id"`
	Name            string         `yaml:"name"`
	Version         string         `yaml:"version"`
	Description     string         `yaml:"description"`
	InitialContext  map[string]any `yaml:"initial_context"`
	Steps           []yamlStep     `yaml:"steps"`
	RequiredPlugins []string       `yaml:"required_plugins"`
}

type yamlAgent struct {
	ID             string         `yaml:"id"`
	ScenarioID     string         `yaml:"scenario_id"`
	Plugins        []string       `yaml:"plugins"`
	Settings       map[string]any `yaml:"settings"`
	InitialContext map[string]any `yaml:"initial_context"`
}

// LoadScenarioFixture reads a YAML scenario document from path, validates
// it against scenarioSchemaJSON, and decodes it into a *Scenario. Intended
// for local dev seeding and tests, not a production persistence path.
func LoadScenarioFixture(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("repository: read scenario fixture %s: %w", path, err)
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("repository: parse scenario fixture %s: %w", path, err)
	}
	schema, _, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(jsonify(generic)); err != nil {
		return nil, fmt.Errorf("repository: scenario fixture %s failed validation: %w", path, err)
	}

	var doc yamlScenario
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("repository: decode scenario fixture %s: %w", path, err)
	}
	return doc.toScenario(), nil
}

// LoadAgentFixture reads a YAML agent document from path, validates it
// against agentSchemaJSON, and decodes it into an *Agent.
func LoadAgentFixture(path string) (*Agent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("repository: read agent fixture %s: %w", path, err)
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("repository: parse agent fixture %s: %w", path, err)
	}
	_, schema, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(jsonify(generic)); err != nil {
		return nil, fmt.Errorf("repository: agent fixture %s failed validation: %w", path, err)
	}

	var doc yamlAgent
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("repository: decode agent fixture %s: %w", path, err)
	}
	return doc.toAgent(), nil
}

// jsonify round-trips a yaml.Unmarshal result through encoding/json so that
// jsonschema.Validate sees plain map[string]any/[]any/float64, not the
// map[string]any-with-non-string-key shapes yaml.v3 can otherwise produce.
func jsonify(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func (doc yamlScenario) toScenario() *Scenario {
	steps := make([]Step, len(doc.Steps))
	for i, s := range doc.Steps {
		branches := make([]Branch, len(s.Branches))
		for j, b := range s.Branches {
			branches[j] = Branch{Condition: b.Condition, NextStep: b.NextStep}
		}
		steps[i] = Step{
			ID:       s.ID,
			Type:     s.Type,
			Params:   s.Params,
			NextStep: s.NextStep,
			Branches: branches,
		}
	}
	return &Scenario{
		ScenarioID:      doc.ScenarioID,
		Name:            doc.Name,
		Version:         doc.Version,
		Description:     doc.Description,
		InitialContext:  doc.InitialContext,
		Steps:           steps,
		RequiredPlugins: doc.RequiredPlugins,
	}
}

func (doc yamlAgent) toAgent() *Agent {
	return &Agent{
		ID:             doc.ID,
		ScenarioID:     doc.ScenarioID,
		Plugins:        doc.Plugins,
		Settings:       doc.Settings,
		InitialContext: doc.InitialContext,
	}
}

// FixtureRepository is a directory-backed ScenarioRepository/AgentRepository
// that loads and validates every "*.scenario.yaml"/"*.agent.yaml" file under
// Dir once at construction. It exists for local development and tests that
// want realistic documents without standing up Mongo.
type FixtureRepository struct {
	scenarios map[string]*Scenario
	agents    map[string]*Agent
}

var _ ScenarioRepository = (*FixtureRepository)(nil)
var _ AgentRepository = fixtureAgentLookup{}

// NewFixtureRepository walks dir, loading every *.scenario.yaml as a
// Scenario and every *.agent.yaml as an Agent.
func NewFixtureRepository(dir string) (*FixtureRepository, error) {
	r := &FixtureRepository{scenarios: map[string]*Scenario{}, agents: map[string]*Agent{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("repository: read fixture dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		full := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, ".scenario.yaml") || strings.HasSuffix(name, ".scenario.yml"):
			sc, err := LoadScenarioFixture(full)
			if err != nil {
				return nil, err
			}
			r.scenarios[sc.ScenarioID] = sc
		case strings.HasSuffix(name, ".agent.yaml") || strings.HasSuffix(name, ".agent.yml"):
			a, err := LoadAgentFixture(full)
			if err != nil {
				return nil, err
			}
			r.agents[a.ID] = a
		}
	}
	return r, nil
}

// GetByID satisfies ScenarioRepository.
func (r *FixtureRepository) GetByID(_ context.Context, id string) (*Scenario, error) {
	if sc, ok := r.scenarios[id]; ok {
		return sc, nil
	}
	return nil, ErrNotFound
}

// agentByID looks up an agent fixture by id. FixtureRepository's own
// GetByID already serves ScenarioRepository, so the AgentRepository view is
// exposed separately through fixtureAgentLookup (Agents()) rather than a
// second GetByID on the same type.
func (r *FixtureRepository) agentByID(id string) (*Agent, error) {
	if a, ok := r.agents[id]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}

// fixtureAgentLookup adapts FixtureRepository to AgentRepository, mirroring
// AgentRepositoryAdapter's role for MongoStore.
type fixtureAgentLookup struct{ *FixtureRepository }

// GetByID satisfies AgentRepository on fixtureAgentLookup.
func (f fixtureAgentLookup) GetByID(_ context.Context, id string) (*Agent, error) {
	return f.agentByID(id)
}

// Agents returns an AgentRepository view of r.
func (r *FixtureRepository) Agents() AgentRepository {
	return fixtureAgentLookup{r}
}
