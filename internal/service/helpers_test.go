package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/internal/repository"
	"estate-smart-go/pkg/embedding"
	"estate-smart-go/pkg/llm"
	"estate-smart-go/pkg/retry"
	"estate-smart-go/pkg/vectorstore"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// 各环节的指令，fakeLLM 按 system 消息区分调用方。
const (
	gateInstruction     = "GATE"
	refineInstruction   = "REFINE"
	describeInstruction = "DESCRIBE"
	digestInstruction   = "DIGEST"
	agentInstruction    = "AGENT"
	testCollection      = "listings_test"
)

// fakeLLM 记录每次调用并按 system 指令返回预设答案。
type fakeLLM struct {
	mu      sync.Mutex
	calls   map[string]int
	answers map[string]func(user string) (string, error)
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		calls: make(map[string]int),
		answers: map[string]func(string) (string, error){
			gateInstruction:   func(string) (string, error) { return "Yes", nil },
			refineInstruction: func(user string) (string, error) { return lastLine(user), nil },
			// 描述原样回显输入，便于检查送入模型的字段
			describeInstruction: func(user string) (string, error) { return "Tavsif: " + user, nil },
			digestInstruction:   func(string) (string, error) { return "Chilonzorda ikkita mos kvartira bor.", nil },
			agentInstruction: func(string) (string, error) {
				return `{"reply":"Here are matching flats.","action":"property_search"}`, nil
			},
		},
	}
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimPrefix(lines[len(lines)-1], "Query: ")
}

func (f *fakeLLM) set(instruction string, fn func(user string) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[instruction] = fn
}

func (f *fakeLLM) count(instruction string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[instruction]
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	system := messages[0].Content
	f.mu.Lock()
	f.calls[system]++
	fn := f.answers[system]
	f.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("unexpected instruction %q", system)
	}
	return fn(messages[len(messages)-1].Content)
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, w llm.MessageWriter) error {
	text, err := f.Complete(ctx, messages, gen)
	if err != nil {
		return err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		if err := w.WriteMessage(websocket.TextMessage, []byte(word)); err != nil {
			return err
		}
	}
	return nil
}

// countingRetriever 统计检索次数。
type countingRetriever struct {
	mu    sync.Mutex
	n     int
	inner Retriever
}

func (c *countingRetriever) Retrieve(ctx context.Context, query string, k int) ([]model.ScoredListing, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.inner.Retrieve(ctx, query, k)
}

func (c *countingRetriever) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// failingStateStore 读取正常，写入总是失败。
type failingStateStore struct {
	repository.StateStore
}

func (failingStateStore) CompareAndSwap(ctx context.Context, expected int64, next *model.ConversationState) (bool, error) {
	return false, errors.New("redis down")
}

type harness struct {
	db        *gorm.DB
	accounts  repository.AccountRepository
	listings  repository.ListingRepository
	agents    repository.AgentRepository
	states    repository.StateStore
	index     *vectorstore.MemoryIndex
	embedder  embedding.Client
	llm       *fakeLLM
	retriever *countingRetriever
	locks     *KeyedMutex
	surfaces  Surfaces
	chat      ChatService
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Listing{}, &model.ListingPhoto{}, &model.Account{}, &model.Property{}, &model.Client{}, &model.AgentMessage{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func testListings() []model.Listing {
	photos := func(id int64, n int) []model.ListingPhoto {
		out := make([]model.ListingPhoto, n)
		for i := range out {
			out[i] = model.ListingPhoto{PhotoURL: fmt.Sprintf("https://cdn.example/%d/%d.jpg", id, i)}
		}
		return out
	}
	return []model.Listing{
		{ID: 1, Address: "Chilonzor 9", Room: "2", Price: 52000, PriceCurrency: "usd", Square: 54, Floor: 3, FloorTotal: 9,
			Description: "Chilonzorda 2 xonali kvartira. Telegram: @uybozor t.me/uybozor", Photos: photos(1, 12)},
		{ID: 2, Address: "Chilonzor 12", Room: "2", Price: 48000, PriceCurrency: "usd", Square: 50, Floor: 2, FloorTotal: 5,
			Description: "2 xonali, ta'mirlangan. instagram.com/uy_joy", Photos: photos(2, 3)},
		{ID: 3, Address: "Yunusobod 4", Room: "3", Price: 80000, PriceCurrency: "usd", Square: 78, Floor: 7, FloorTotal: 12,
			Description: "3 xonali yangi uy https://youtube.com/watch?v=abc"},
		{ID: 4, Address: "Sergeli 6", Room: "1", Price: 25000, PriceCurrency: "usd", Square: 33, Floor: 1, FloorTotal: 4,
			Description: "1 xonali arzon kvartira"},
		{ID: 5, Address: "Mirobod", Room: "4", Price: 150000, PriceCurrency: "usd", Square: 120, Floor: 5, FloorTotal: 10,
			Description: "Hashamatli 4 xonali kvartira"},
		{ID: 6, Address: "Olmazor", Room: "2", Price: 45000, PriceCurrency: "usd", Square: 48, Floor: 4, FloorTotal: 9,
			Description: "Olmazorda 2 xonali"},
		{ID: 7, Address: "Chilonzor 1", Room: "2", Price: 60000, PriceCurrency: "usd", Square: 60, Floor: 6, FloorTotal: 9,
			Description: "Chilonzor metro yonida 2 xonali"},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db := openTestDB(t)
	h := &harness{
		db:       db,
		accounts: repository.NewAccountRepository(db),
		listings: repository.NewListingRepository(db),
		agents:   repository.NewAgentRepository(db),
		states:   repository.NewMemoryStateStore(),
		index:    vectorstore.NewMemoryIndex(),
		embedder: embedding.NewHashClient(64),
		llm:      newFakeLLM(),
		locks:    NewKeyedMutex(),
	}
	require.NoError(t, h.listings.Upsert(ctx, testListings()))
	_, err := NewBootstrapper(h.listings, h.index, h.embedder, BootstrapOptions{Collection: testCollection}).Bootstrap(ctx)
	require.NoError(t, err)

	h.retriever = &countingRetriever{inner: NewRetriever(h.embedder, h.index, RetrieverOptions{
		Collection:  testCollection,
		DefaultTopK: 5,
		Retry:       retry.Policy{MaxAttempts: 2},
	})}
	synth := NewSynthesizer(h.llm, describeInstruction, time.Second, 3)
	h.surfaces = Surfaces{
		Listing: Surface{Name: "listing", TopK: 5, RelevanceGate: true, CreditGated: true,
			Composer: NewListingComposer(synth, 10), HistorySummary: "Natijalar yuborildi"},
		Generic: Surface{Name: "generic", TopK: 15, RelevanceGate: true, CreditGated: true,
			Composer: NewDigestComposer(h.llm, digestInstruction, time.Second)},
		Agent: Surface{Name: "agent", TopK: 5, CreditGated: true,
			Composer: NewAgentComposer(h.llm, h.agents, agentInstruction, time.Second)},
	}
	h.chat = h.newChat(h.states)
	return h
}

func (h *harness) newChat(states repository.StateStore) ChatService {
	return NewChatService(h.accounts, states,
		NewRelevanceGate(h.llm, gateInstruction, time.Second),
		NewQueryRefiner(h.llm, refineInstruction, 4, time.Second),
		h.retriever, h.locks,
		ChatOptions{DefaultCredits: 200, HistoryMax: 4, StateTimeout: time.Second, NoResultsText: "topilmadi"})
}

func (h *harness) setCredits(t *testing.T, userID int64, credits int) {
	t.Helper()
	_, _, err := h.accounts.FindOrCreate(context.Background(), userID, credits)
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&model.Account{}).Where("user_id = ?", userID).Update("credits", credits).Error)
}

func (h *harness) credits(t *testing.T, userID int64) int {
	t.Helper()
	acc, err := h.accounts.FindByID(context.Background(), userID)
	require.NoError(t, err)
	return acc.Credits
}
