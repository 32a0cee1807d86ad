package testutil

// FixedBatchGenerator returns the same batch token every time.
//
// Golden snapshots of the journal are byte-identical across runs only when
// batch tokens are. Unlike engine.FixedGenerator, which returns tokens in
// sequence, every event shares this one token.
//
// Thread-safety: FixedBatchGenerator is stateless and safe for concurrent use.
type FixedBatchGenerator struct {
	token string
}

// NewFixedBatchGenerator creates a fixed batch token generator.
// If token is empty, Generate returns "test-batch-default".
func NewFixedBatchGenerator(token string) *FixedBatchGenerator {
	if token == "" {
		token = "test-batch-default"
	}
	return &FixedBatchGenerator{token: token}
}

// Generate returns the fixed batch token.
func (g *FixedBatchGenerator) Generate() string {
	return g.token
}
