package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/qcanalyst/qcanalyst/internal/log"
)

// Generator turns a natural-language question into a SQL query over the
// normalized schema. Implementations must return a single read-only
// statement; callers still validate before executing.
type Generator interface {
	GenerateSQL(ctx context.Context, question, schemaContext string) (string, error)
}

const sqlSystemPrompt = `You write PostgreSQL queries over a SNAP Quality Control database.

Rules:
- Answer with exactly one SELECT or WITH statement, nothing else. No explanation, no markdown fences.
- Never write anything: no INSERT, UPDATE, DELETE, DDL.
- Population-level estimates (totals, averages over the real caseload) must be weighted: SUM(value * household_weight) for totals, SUM(value * household_weight) / SUM(household_weight) for means, SUM(household_weight) instead of COUNT(*) for population counts.
- Counts of sampled cases use plain COUNT(*).
- Official error rate statistics include only case_classification = 1 households.
- Coded columns are explained by the ref_* tables; join them for readable output.`

// GenkitGenerator generates SQL with a Google AI model via Genkit.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string
	logger    log.Logger
}

// NewGenkitGenerator initializes Genkit with the Google AI plugin. The
// model name is provider-qualified, e.g. "googleai/gemini-2.5-flash".
// Requires GEMINI_API_KEY in the environment.
func NewGenkitGenerator(ctx context.Context, modelName string, logger log.Logger) (*GenkitGenerator, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, fmt.Errorf("initialize genkit")
	}
	return &GenkitGenerator{g: g, modelName: modelName, logger: logger}, nil
}

// GenerateSQL asks the model for a query and validates the response as
// read-only before returning it, so a misbehaving model cannot push a
// write statement past this boundary.
func (gg *GenkitGenerator) GenerateSQL(ctx context.Context, question, schemaContext string) (string, error) {
	response, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.modelName),
		ai.WithSystem(sqlSystemPrompt),
		ai.WithPrompt("Schema:\n%s\n\nQuestion: %s", schemaContext, question),
	)
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}

	sql := CleanGeneratedSQL(response.Text())
	if err := ValidateReadOnly(sql); err != nil {
		return "", fmt.Errorf("generated sql rejected: %w", err)
	}

	gg.logger.Debug("sql generated", "question", question, "sql", sql)
	return sql, nil
}

// CleanGeneratedSQL strips markdown code fences and trailing semicolons
// that models tend to wrap around their answers.
func CleanGeneratedSQL(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
}
