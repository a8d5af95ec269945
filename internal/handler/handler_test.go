package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/middleware"
	"estate-smart-go/internal/model"
	"estate-smart-go/internal/service"
	"estate-smart-go/pkg/tasks"
	"estate-smart-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessages = config.MessagesConfig{
	OffDomain:        "off-domain",
	NoCredits:        "no-credits",
	CreditsRemaining: "Sizda %d ta kredit qoldi.",
	Apology:          "sorry",
	Welcome:          "welcome %d %s",
	SelfReferral:     "self",
	UnknownReferrer:  "unknown",
	MalformedInput:   "malformed",
}

type fakeChat struct {
	ask func(ctx context.Context, req service.Request, surface service.Surface) (*service.Reply, error)
}

func (f *fakeChat) Ask(ctx context.Context, req service.Request, surface service.Surface) (*service.Reply, error) {
	return f.ask(ctx, req, surface)
}

func (f *fakeChat) History(ctx context.Context, userID int64) ([]model.ChatMessage, error) {
	return []model.ChatMessage{{Role: model.RoleUser, Content: "salom"}}, nil
}

type fakeAccounts struct {
	welcome *service.Welcome
}

func (f *fakeAccounts) Register(ctx context.Context, userID int64, referralCode string) (*service.Welcome, error) {
	w := *f.welcome
	w.UserID = userID
	return &w, nil
}

func (f *fakeAccounts) Profile(ctx context.Context, userID int64) (*model.Account, error) {
	return &model.Account{UserID: userID, Credits: 42}, nil
}

func (f *fakeAccounts) ReferralLink(userID int64) (string, error) {
	return "https://t.me/bot?start=x", nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

var testSurfaces = service.Surfaces{
	Listing: service.Surface{Name: "listing", TopK: 5, RelevanceGate: true, CreditGated: true},
	Generic: service.Surface{Name: "generic", TopK: 15, RelevanceGate: true, CreditGated: true},
	Agent:   service.Surface{Name: "agent", TopK: 5, CreditGated: true},
}

func newRouter(jwt *token.JWTManager, chat service.ChatService, accounts service.AccountService, publish TaskPublisher) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger())
	api := r.Group("/api/v1")
	authed := api.Group("/")
	authed.Use(middleware.AuthMiddleware(jwt))
	{
		chatHandler := NewChatHandler(chat, testSurfaces, jwt, testMessages)
		authed.POST("/chat/listings", chatHandler.AskListings)
		authed.POST("/chat/generic", chatHandler.AskGeneric)
		authed.GET("/chat/history", NewConversationHandler(chat, testMessages).GetConversation)
		authed.POST("/users/start", NewUserHandler(accounts, testMessages).Start)
	}
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(jwt), middleware.AdminAuthMiddleware())
	admin.POST("/listings/sync", NewAdminHandler(publish, nil, accounts, testMessages).SyncListings)
	r.GET("/chat/stream/:token", NewChatHandler(chat, testSurfaces, jwt, testMessages).Stream)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, bearer string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func userToken(t *testing.T, jwt *token.JWTManager, id int64, role string) string {
	t.Helper()
	tok, err := jwt.GenerateToken(id, role)
	require.NoError(t, err)
	return tok
}

func TestAskListingsReturnsReplyAndCreditsNotice(t *testing.T) {
	jwt := token.NewJWTManager("secret", 1, 1)
	var gotSurface service.Surface
	var gotUser int64
	chat := &fakeChat{ask: func(ctx context.Context, req service.Request, s service.Surface) (*service.Reply, error) {
		gotSurface, gotUser = s, req.UserID
		return &service.Reply{
			Text:     "Natijalar yuborildi",
			Listings: []service.ListingReply{{ID: 1, Text: "Chilonzor", Photos: []string{"a.jpg"}}},
			Credits:  199,
			Outcome:  service.OutcomeAnswered,
		}, nil
	}}
	r := newRouter(jwt, chat, &fakeAccounts{}, nil)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/chat/listings", userToken(t, jwt, 77, ""), TextRequest{Text: "kvartira"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Sizda 199 ta kredit qoldi.", env.Message)
	assert.Equal(t, "listing", gotSurface.Name)
	assert.Equal(t, int64(77), gotUser)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	var reply service.Reply
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	require.Len(t, reply.Listings, 1)
	assert.Equal(t, []string{"a.jpg"}, reply.Listings[0].Photos)
}

func TestErrorsMapToStatusAndMessage(t *testing.T) {
	jwt := token.NewJWTManager("secret", 1, 1)
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{service.ErrNoCreditsRemaining, http.StatusPaymentRequired, "no-credits"},
		{service.ErrOffDomainQuery, http.StatusUnprocessableEntity, "off-domain"},
		{service.ErrIndexNotReady, http.StatusServiceUnavailable, "sorry"},
		{service.ErrMalformedInput, http.StatusBadRequest, "malformed"},
	}
	for _, tc := range cases {
		chat := &fakeChat{ask: func(context.Context, service.Request, service.Surface) (*service.Reply, error) {
			return nil, tc.err
		}}
		r := newRouter(jwt, chat, &fakeAccounts{}, nil)
		w, env := doJSON(t, r, http.MethodPost, "/api/v1/chat/generic", userToken(t, jwt, 1, ""), TextRequest{Text: "q"})
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Equal(t, tc.message, env.Message)
	}
}

func TestAuthIsRequired(t *testing.T) {
	jwt := token.NewJWTManager("secret", 1, 1)
	r := newRouter(jwt, &fakeChat{}, &fakeAccounts{}, nil)

	w, _ := doJSON(t, r, http.MethodGet, "/api/v1/chat/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	referral, err := jwt.GenerateReferralCode(1)
	require.NoError(t, err)
	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/chat/history", referral, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/chat/history", userToken(t, jwt, 1, ""), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminSyncRequiresAdminRole(t *testing.T) {
	jwt := token.NewJWTManager("secret", 1, 1)
	var published []tasks.ListingSyncTask
	publish := func(ctx context.Context, task tasks.ListingSyncTask) error {
		published = append(published, task)
		return nil
	}
	r := newRouter(jwt, &fakeChat{}, &fakeAccounts{}, publish)
	body := SyncRequest{ObjectName: "2026-10-15.jsonl"}

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/admin/listings/sync", userToken(t, jwt, 1, token.RoleUser), body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, published)

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/admin/listings/sync", userToken(t, jwt, 1, token.RoleAdmin), body)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, published, 1)
	assert.Equal(t, "2026-10-15.jsonl", published[0].ObjectName)
	assert.Equal(t, "admin", published[0].Source)
	assert.NotEmpty(t, published[0].TaskID)
}

func TestStartReportsRejectedReferral(t *testing.T) {
	jwt := token.NewJWTManager("secret", 1, 1)
	accounts := &fakeAccounts{welcome: &service.Welcome{Credits: 200, Created: true, ReferralLink: "link", ReferralErr: service.ErrSelfReferral}}
	r := newRouter(jwt, &fakeChat{}, accounts, nil)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/users/start", userToken(t, jwt, 5, ""), StartRequest{ReferralCode: "5"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "welcome 200 link", env.Message)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "self", data["referralNotice"])
	assert.Equal(t, float64(5), data["userId"])
}

func TestStreamSendsChunksThenCompletion(t *testing.T) {
	jwt := token.NewJWTManager("secret", 1, 1)
	chat := &fakeChat{ask: func(ctx context.Context, req service.Request, s service.Surface) (*service.Reply, error) {
		if s.Name != "generic" || req.Stream == nil {
			return nil, service.ErrMalformedInput
		}
		for _, part := range []string{"Chilonzorda ", "ikkita kvartira."} {
			if err := req.Stream.WriteMessage(websocket.TextMessage, []byte(part)); err != nil {
				return nil, err
			}
		}
		return &service.Reply{Text: "Chilonzorda ikkita kvartira.", Credits: 9, Outcome: service.OutcomeAnswered}, nil
	}}
	srv := httptest.NewServer(newRouter(jwt, chat, &fakeAccounts{}, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/stream/" + userToken(t, jwt, 3, "")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("Chilonzor")))

	var chunks []string
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		if chunk, ok := frame["chunk"].(string); ok {
			chunks = append(chunks, chunk)
			continue
		}
		assert.Equal(t, "completion", frame["type"])
		assert.Equal(t, float64(9), frame["credits"])
		break
	}
	assert.Equal(t, "Chilonzorda ikkita kvartira.", strings.Join(chunks, ""))
}
