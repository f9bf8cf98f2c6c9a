package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"chatd/internal/store"
	"chatd/pkg/types"
)

// mockStore implements Store over in-memory maps.
type mockStore struct {
	mu     sync.Mutex
	models []types.ModelFile
	convs  map[uuid.UUID]types.Conversation
	msgs   map[uuid.UUID][]types.Message

	deleted     []uuid.UUID
	deletedFrom []uuid.UUID
	truncated   []uuid.UUID
	updated     map[uuid.UUID]string
	renamed     map[uuid.UUID]string
}

func newMockStore() *mockStore {
	return &mockStore{
		convs:   make(map[uuid.UUID]types.Conversation),
		msgs:    make(map[uuid.UUID][]types.Message),
		updated: make(map[uuid.UUID]string),
		renamed: make(map[uuid.UUID]string),
	}
}

func (m *mockStore) Models(ctx context.Context) ([]types.ModelFile, error) {
	return append([]types.ModelFile(nil), m.models...), nil
}

func (m *mockStore) Model(ctx context.Context, id uuid.UUID) (types.ModelFile, error) {
	for _, mf := range m.models {
		if mf.ID == id {
			return mf, nil
		}
	}
	return types.ModelFile{}, store.ErrNotFound("model", id.String())
}

func (m *mockStore) CreateConversation(ctx context.Context, title string, modelID *uuid.UUID) (types.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if title == "" {
		title = store.DefaultTitle
	}
	c := types.Conversation{ID: uuid.New(), Title: title, ModelID: modelID}
	m.convs[c.ID] = c
	return c, nil
}

func (m *mockStore) Conversations(ctx context.Context) ([]types.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []types.Conversation{}
	for _, c := range m.convs {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockStore) Conversation(ctx context.Context, id uuid.UUID) (types.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return types.Conversation{}, store.ErrNotFound("conversation", id.String())
	}
	return c, nil
}

func (m *mockStore) RenameConversation(ctx context.Context, id uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return store.ErrNotFound("conversation", id.String())
	}
	m.renamed[id] = title
	return nil
}

func (m *mockStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return store.ErrNotFound("conversation", id.String())
	}
	delete(m.convs, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockStore) Messages(ctx context.Context, convID uuid.UUID) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Message(nil), m.msgs[convID]...), nil
}

func (m *mockStore) Message(ctx context.Context, id uuid.UUID) (types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msgs := range m.msgs {
		for _, msg := range msgs {
			if msg.ID == id {
				return msg, nil
			}
		}
	}
	return types.Message{}, store.ErrNotFound("message", id.String())
}

func (m *mockStore) Update(ctx context.Context, id uuid.UUID, newText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated[id] = newText
	return nil
}

func (m *mockStore) DeleteFromHere(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedFrom = append(m.deletedFrom, id)
	return nil
}

func (m *mockStore) TruncateOutdated(ctx context.Context, convID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncated = append(m.truncated, convID)
	return nil
}

// mockChat records calls and answers with canned values.
type mockChat struct {
	mu        sync.Mutex
	sent      []string
	cancelled []uuid.UUID
	selected  []uuid.UUID
	canSend   bool
	sendErr   error
	status    types.SessionStatus
}

func (m *mockChat) Send(ctx context.Context, convID uuid.UUID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, text)
	return nil
}

func (m *mockChat) Cancel(convID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, convID)
	return len(m.cancelled) == 1
}

func (m *mockChat) CanSend(ctx context.Context, convID uuid.UUID, text string) (bool, error) {
	return m.canSend, nil
}

func (m *mockChat) SelectModel(ctx context.Context, convID uuid.UUID, modelID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = append(m.selected, convID)
	return nil
}

func (m *mockChat) Status(convID uuid.UUID) types.SessionStatus { return m.status }

type fixture struct {
	st   *mockStore
	chat *mockChat
	mux  http.Handler
}

func newFixture() *fixture {
	st := newMockStore()
	ch := &mockChat{canSend: true, status: types.SessionStatus{State: "idle"}}
	return &fixture{st: st, chat: ch, mux: NewMux(Deps{Store: st, Chat: ch})}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestListModels(t *testing.T) {
	f := newFixture()
	f.st.models = []types.ModelFile{{ID: uuid.New(), DisplayName: "tiny", Path: "/m/tiny.gguf"}}

	rec := f.do(t, http.MethodGet, "/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp types.ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Models) != 1 || resp.Models[0].DisplayName != "tiny" {
		t.Fatalf("models = %+v", resp.Models)
	}
}

func TestCreateConversation(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/conversations", types.CreateConversationRequest{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var conv types.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conv.Title != store.DefaultTitle {
		t.Fatalf("title = %q", conv.Title)
	}
}

func TestSendAccepted(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)

	rec := f.do(t, http.MethodPost, "/conversations/"+conv.ID.String()+"/send", types.SendRequest{Text: "hello"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(f.chat.sent) != 1 || f.chat.sent[0] != "hello" {
		t.Fatalf("sent = %v", f.chat.sent)
	}
}

func TestSendPreconditionUnprocessable(t *testing.T) {
	f := newFixture()
	f.chat.canSend = false
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)

	rec := f.do(t, http.MethodPost, "/conversations/"+conv.ID.String()+"/send", types.SendRequest{Text: "hello"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.chat.sent) != 0 {
		t.Fatalf("precondition failure still sent: %v", f.chat.sent)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)

	rec := f.do(t, http.MethodPost, "/conversations/"+conv.ID.String()+"/send", map[string]string{})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing text: status = %d", rec.Code)
	}

	// Wrong content type.
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+conv.ID.String()+"/send", strings.NewReader(`{"text":"x"}`))
	rec2 := httptest.NewRecorder()
	f.mux.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("no content type: status = %d", rec2.Code)
	}
}

func TestInvalidPathID(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/conversations/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestConversationNotFound(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/conversations/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != http.StatusNotFound || body.Error == "" {
		t.Fatalf("error body = %+v", body)
	}
}

func TestRenameConversation(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)

	rec := f.do(t, http.MethodPut, "/conversations/"+conv.ID.String(), types.RenameConversationRequest{Title: "Trip"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if f.st.renamed[conv.ID] != "Trip" {
		t.Fatalf("renamed = %v", f.st.renamed)
	}
}

func TestDeleteConversationCancelsSession(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)

	rec := f.do(t, http.MethodDelete, "/conversations/"+conv.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.chat.cancelled) != 1 || f.chat.cancelled[0] != conv.ID {
		t.Fatalf("cancelled = %v", f.chat.cancelled)
	}
}

func TestListMessages(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)
	f.st.msgs[conv.ID] = []types.Message{
		{ID: uuid.New(), ConversationID: conv.ID, Role: types.RoleUser, Text: "hi", Position: 0},
	}

	rec := f.do(t, http.MethodGet, "/conversations/"+conv.ID.String()+"/messages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp types.MessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Text != "hi" {
		t.Fatalf("messages = %+v", resp.Messages)
	}
}

func TestSessionState(t *testing.T) {
	f := newFixture()
	f.chat.status = types.SessionStatus{State: "streaming"}
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)

	rec := f.do(t, http.MethodGet, "/conversations/"+conv.ID.String()+"/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st types.SessionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "streaming" {
		t.Fatalf("state = %q", st.State)
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)

	rec := f.do(t, http.MethodPost, "/conversations/"+conv.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"cancelled":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestSelectModelValidatesModel(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)

	unknown := uuid.New()
	rec := f.do(t, http.MethodPut, "/conversations/"+conv.ID.String()+"/model", types.SelectModelRequest{ModelID: &unknown})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown model: status = %d", rec.Code)
	}

	model := types.ModelFile{ID: uuid.New(), DisplayName: "tiny", Path: "/m/tiny.gguf"}
	f.st.models = append(f.st.models, model)
	rec = f.do(t, http.MethodPut, "/conversations/"+conv.ID.String()+"/model", types.SelectModelRequest{ModelID: &model.ID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("known model: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(f.chat.selected) != 1 {
		t.Fatalf("selected = %v", f.chat.selected)
	}

	// Null clears the binding without a model lookup.
	rec = f.do(t, http.MethodPut, "/conversations/"+conv.ID.String()+"/model", types.SelectModelRequest{})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear model: status = %d", rec.Code)
	}
}

func TestEditMessageCancelsSession(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)
	msg := types.Message{ID: uuid.New(), ConversationID: conv.ID, Role: types.RoleUser, Text: "old"}
	f.st.msgs[conv.ID] = []types.Message{msg}

	rec := f.do(t, http.MethodPut, "/messages/"+msg.ID.String(), types.EditMessageRequest{Text: "new"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if f.st.updated[msg.ID] != "new" {
		t.Fatalf("updated = %v", f.st.updated)
	}
	if len(f.chat.cancelled) != 1 || f.chat.cancelled[0] != conv.ID {
		t.Fatalf("cancelled = %v", f.chat.cancelled)
	}
}

func TestDeleteFromHere(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)
	msg := types.Message{ID: uuid.New(), ConversationID: conv.ID, Role: types.RoleUser, Text: "x"}
	f.st.msgs[conv.ID] = []types.Message{msg}

	rec := f.do(t, http.MethodDelete, "/messages/"+msg.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.st.deletedFrom) != 1 || f.st.deletedFrom[0] != msg.ID {
		t.Fatalf("deletedFrom = %v", f.st.deletedFrom)
	}
}

func TestTruncateOutdated(t *testing.T) {
	f := newFixture()
	conv, _ := f.st.CreateConversation(context.Background(), "", nil)

	rec := f.do(t, http.MethodPost, "/conversations/"+conv.ID.String()+"/truncate-outdated", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.st.truncated) != 1 || f.st.truncated[0] != conv.ID {
		t.Fatalf("truncated = %v", f.st.truncated)
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture()
	if rec := f.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}

	notReady := NewMux(Deps{Store: f.st, Chat: f.chat, Ready: func() bool { return false }})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	notReady.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("not ready readyz = %d", rec.Code)
	}
}

func TestRefreshModels(t *testing.T) {
	f := newFixture()
	called := 0
	mux := NewMux(Deps{Store: f.st, Chat: f.chat, Import: func(ctx context.Context) (int, error) {
		called++
		return 3, nil
	}})
	req := httptest.NewRequest(http.MethodPost, "/models/refresh", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if called != 1 || !strings.Contains(rec.Body.String(), `"imported":3`) {
		t.Fatalf("called=%d body=%s", called, rec.Body.String())
	}
}
