package anonymizer

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfi/pii-vault/internal/detector"
	"github.com/hfi/pii-vault/internal/mapping"
	"github.com/hfi/pii-vault/internal/storage"
	"github.com/hfi/pii-vault/pkg/token"
)

type testVault struct {
	store *mapping.Store
	anon  *Anonymizer
	dean  *Deanonymizer
}

func newTestVault(t *testing.T, backend storage.Backend) *testVault {
	t.Helper()
	codec := token.NewCodec(token.DefaultLength)
	store := mapping.NewStore(codec, mapping.WithBackend(backend))
	t.Cleanup(func() { _ = store.Close() })

	return &testVault{
		store: store,
		anon:  New(detector.NewDefaultPipeline(), codec, store, zerolog.Nop(), nil),
		dean:  NewDeanonymizer(codec, store, zerolog.Nop(), nil),
	}
}

func TestAnonymize_Scenarios(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		lenient bool
		want    string
	}{
		{
			name:  "name email and phone",
			input: "contact John Smith at john.smith@company.com or call 555-123-4567",
			want:  "contact NAME_32ddaf65 at EMAIL_fdc2a4ab or call PHONE_d36e8308",
		},
		{
			name:  "repeated email",
			input: "Email dborda@gmail.com again: dborda@gmail.com",
			want:  "Email EMAIL_8004719c again: EMAIL_8004719c",
		},
		{
			name:  "no pii",
			input: "This message contains no personal information.",
			want:  "This message contains no personal information.",
		},
		{
			name:    "no pii lenient",
			input:   "This message contains no personal information.",
			lenient: true,
			want:    "This message contains no personal information.",
		},
		{
			name:    "lowercase name lenient",
			input:   "cuyo nombre es maria garcia",
			lenient: true,
			want:    "cuyo nombre es NAME_f50eb080",
		},
		{
			name:  "lowercase name strict",
			input: "cuyo nombre es maria garcia",
			want:  "cuyo nombre es maria garcia",
		},
		{
			name:  "spanish possessive",
			input: "Su email es test@test.com",
			want:  "Su email es EMAIL_f660ab91",
		},
		{
			name:    "spanish possessive lenient",
			input:   "Su email es test@test.com",
			lenient: true,
			want:    "Su email es EMAIL_f660ab91",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVault(t, nil)
			got := v.anon.Anonymize(context.Background(), tc.input, Options{LenientNames: tc.lenient})
			assert.Equal(t, tc.want, got.Text)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"contact John Smith at john.smith@company.com or call 555-123-4567",
		"Write to Ana-María López at ana.lopez@example.es or +34 612 345 678.",
		"Email dborda@gmail.com again: dborda@gmail.com",
		"This message contains no personal information.",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			v := newTestVault(t, nil)
			ctx := context.Background()

			anon := v.anon.Anonymize(ctx, input, Options{})
			restored := v.dean.Deanonymize(ctx, anon.Text, "")
			assert.Equal(t, input, restored.Text)
			assert.Zero(t, restored.UnresolvedCount)
		})
	}
}

func TestAnonymize_NoFragmentsLeft(t *testing.T) {
	testCases := []struct {
		name   string
		input  string
		leaked []string
	}{
		{"inner capital surname", "please email John McDonald today", []string{"John", "McDonald", "Donald"}},
		{"elided surname", "ask Sean O'Neil", []string{"Sean", "O'", "Neil"}},
		{"inner capital single word", "DeLuca signed", []string{"DeLuca", "Luca"}},
		{"apostrophe in email", "write to o'brien@x.com", []string{"o'", "brien", "@x.com"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVault(t, nil)
			ctx := context.Background()

			anon := v.anon.Anonymize(ctx, tc.input, Options{})
			for _, frag := range tc.leaked {
				assert.NotContains(t, anon.Text, frag)
			}

			restored := v.dean.Deanonymize(ctx, anon.Text, "")
			assert.Equal(t, tc.input, restored.Text)
		})
	}
}

func TestAnonymize_Entities(t *testing.T) {
	v := newTestVault(t, nil)

	res := v.anon.Anonymize(context.Background(),
		"contact John Smith at john.smith@company.com or call 555-123-4567", Options{})

	require.Len(t, res.Entities, 3)
	assert.Equal(t, token.TypeEmail, res.Entities[0].Type)
	assert.Equal(t, "email", res.Entities[0].Source)
	assert.Equal(t, token.TypePhone, res.Entities[1].Type)
	assert.Equal(t, token.TypeName, res.Entities[2].Type)
	assert.Equal(t, map[string]int{"EMAIL": 1, "PHONE": 1, "NAME": 1}, res.ByType())
}

func TestAnonymize_CaseInsensitiveTokens(t *testing.T) {
	v := newTestVault(t, nil)
	ctx := context.Background()

	strict := v.anon.Anonymize(ctx, "contact John Smith today", Options{})
	upper := v.anon.Anonymize(ctx, "a client called JOHN SMITH", Options{LenientNames: true})
	lower := v.anon.Anonymize(ctx, "my name is john smith", Options{LenientNames: true})

	assert.Equal(t, "contact NAME_32ddaf65 today", strict.Text)
	assert.Equal(t, "a client called NAME_32ddaf65", upper.Text)
	assert.Equal(t, "my name is NAME_32ddaf65", lower.Text)
}

func TestAnonymize_ExistingTokensUntouched(t *testing.T) {
	v := newTestVault(t, nil)

	input := "forward NAME_a1b2c3d4 to Maria"
	got := v.anon.Anonymize(context.Background(), input, Options{LenientNames: true})
	assert.Equal(t, "forward NAME_a1b2c3d4 to NAME_"+token.NewCodec(8).Compute("maria"), got.Text)
}

type failingIssuer struct{}

func (failingIssuer) GetOrCreate(context.Context, string, token.Type) (string, error) {
	return "", errors.New("boom")
}

func TestAnonymize_IssuerFailureLeavesSpan(t *testing.T) {
	codec := token.NewCodec(token.DefaultLength)
	a := New(detector.NewDefaultPipeline(), codec, failingIssuer{}, zerolog.Nop(), nil)

	input := "mail test@test.com"
	got := a.Anonymize(context.Background(), input, Options{})
	assert.Equal(t, input, got.Text)
	assert.Empty(t, got.Entities)
}

func TestAnonymize_DisabledDetector(t *testing.T) {
	codec := token.NewCodec(token.DefaultLength)
	store := mapping.NewStore(codec)
	pipeline := detector.NewDefaultPipeline()
	require.NoError(t, pipeline.SetEnabled("phone", false))

	a := New(pipeline, codec, store, zerolog.Nop(), nil)
	got := a.Anonymize(context.Background(), "call 555-123-4567", Options{})
	assert.Equal(t, "call 555-123-4567", got.Text)
}

func TestDeanonymize_FailOpen(t *testing.T) {
	v := newTestVault(t, nil)

	input := "ask NAME_deadbeef about it"
	got := v.dean.Deanonymize(context.Background(), input, "")
	assert.Equal(t, input, got.Text)
	assert.Equal(t, 1, got.UnresolvedCount)
	assert.Equal(t, 0, got.RestoredCount)
}

func TestDeanonymize_TypeTagMustMatch(t *testing.T) {
	v := newTestVault(t, nil)
	ctx := context.Background()

	v.anon.Anonymize(ctx, "contact John Smith", Options{})

	got := v.dean.Deanonymize(ctx, "EMAIL_32ddaf65 and NAME_32ddaf65", "")
	assert.Equal(t, "EMAIL_32ddaf65 and John Smith", got.Text)
	assert.Equal(t, 1, got.RestoredCount)
	assert.Equal(t, 1, got.UnresolvedCount)
}

func TestDeanonymize_NoTokens(t *testing.T) {
	v := newTestVault(t, nil)

	got := v.dean.Deanonymize(context.Background(), "nothing to see", "")
	assert.Equal(t, "nothing to see", got.Text)
	assert.Zero(t, got.RestoredCount)
}

func TestGracefulDegradation(t *testing.T) {
	backend := storage.NewMemoryBackend()
	require.NoError(t, backend.Close())

	v := newTestVault(t, backend)
	ctx := context.Background()
	v.store.WarmCache(ctx)

	input := "contact John Smith at john.smith@company.com or call 555-123-4567"
	anon := v.anon.Anonymize(ctx, input, Options{})
	assert.Equal(t, "contact NAME_32ddaf65 at EMAIL_fdc2a4ab or call PHONE_d36e8308", anon.Text)

	restored := v.dean.Deanonymize(ctx, anon.Text, "")
	assert.Equal(t, input, restored.Text)

	assert.False(t, v.store.Stats(ctx).BackingStoreConnected)
}

func TestPersistenceAcrossStores(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()

	first := newTestVault(t, backend)
	anon := first.anon.Anonymize(ctx, "contact John Smith", Options{})

	codec := token.NewCodec(token.DefaultLength)
	fresh := mapping.NewStore(codec, mapping.WithBackend(backend))
	defer fresh.Close()
	dean := NewDeanonymizer(codec, fresh, zerolog.Nop(), nil)

	got := dean.Deanonymize(ctx, anon.Text, "")
	assert.Equal(t, "contact John Smith", got.Text)
}
