package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"augustine-rag/internal/config"
	"augustine-rag/internal/models"
)

var testModels = []config.ModelOption{
	{Name: "LLaMA 3.1 8B", ID: "llama3.1-8b"},
	{Name: "GPT-OSS 120B", ID: "gpt-oss-120b"},
}

func TestNew_SystemFirstAndHidden(t *testing.T) {
	s := New("id", "augustine", "persona prompt", testModels[0])

	h := s.History()
	require.Len(t, h, 1)
	assert.Equal(t, models.RoleSystem, h[0].Role)
	assert.Equal(t, "persona prompt", h[0].Content)
	assert.Empty(t, s.Visible())
}

func TestAppend_GrowsMonotonically(t *testing.T) {
	s := New("id", "augustine", "sys", testModels[0])

	for i := 0; i < 3; i++ {
		s.Append(models.RoleUser, "q")
		s.Append(models.RoleAssistant, "a")
	}

	assert.Equal(t, 1+2*3, s.Len())
	visible := s.Visible()
	require.Len(t, visible, 6)
	assert.Equal(t, models.RoleUser, visible[0].Role)
	assert.Equal(t, models.RoleAssistant, visible[5].Role)
}

func TestHistory_ReturnsCopy(t *testing.T) {
	s := New("id", "augustine", "sys", testModels[0])
	h := s.History()
	h[0].Content = "tampered"

	assert.Equal(t, "sys", s.History()[0].Content)
}

func TestSelectModel(t *testing.T) {
	s := New("id", "augustine", "sys", testModels[0])

	m, err := s.SelectModel(testModels, "GPT-OSS 120B")
	require.NoError(t, err)
	assert.Equal(t, "gpt-oss-120b", m.ID)
	assert.Equal(t, "gpt-oss-120b", s.Model().ID)

	_, err = s.SelectModel(testModels, "llama3.1-8b")
	require.NoError(t, err)
	assert.Equal(t, "LLaMA 3.1 8B", s.Model().Name)

	_, err = s.SelectModel(testModels, "gpt-4")
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Equal(t, "llama3.1-8b", s.Model().ID, "failed selection keeps the previous model")
}

func TestBeginTurn_Serialises(t *testing.T) {
	s := New("id", "augustine", "sys", testModels[0])

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := s.BeginTurn()
			defer done()
			s.Append(models.RoleUser, "q")
			s.Append(models.RoleAssistant, "a")
		}()
	}
	wg.Wait()

	h := s.History()
	require.Len(t, h, 41)
	for i := 1; i < len(h); i += 2 {
		assert.Equal(t, models.RoleUser, h[i].Role)
		assert.Equal(t, models.RoleAssistant, h[i+1].Role)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	persona := models.Personas["augustine"]

	s, err := r.Create(persona, testModels[0])
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "augustine", s.Persona)
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, r.Delete(s.ID))
	_, err = r.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Delete(s.ID), ErrNotFound)
}
