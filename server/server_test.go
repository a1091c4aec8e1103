package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cotowatch/config"
	"cotowatch/core/room"
	"cotowatch/core/video"
	"cotowatch/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJobs struct {
	ids []int64
}

func (s *stubJobs) Enqueue(_ context.Context, id int64) error {
	s.ids = append(s.ids, id)
	return nil
}

type testServer struct {
	app    *App
	jobs   *stubJobs
	router *mux.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		MediaRoot:       root,
		StreamsDir:      filepath.Join(root, "streams"),
		SegmentSeconds:  6,
		StoreDriver:     "memory",
		StorageDriver:   "local",
		PublicStreamURL: "/media/",
		JWTSecret:       "test-secret",
		RoomAccessTTL:   time.Hour,
		DefaultCapacity: 10,
	}
	ctx, cancel := context.WithCancel(context.Background())
	app, err := NewApp(ctx, cfg)
	require.NoError(t, err)

	jobs := &stubJobs{}
	app.Jobs = jobs
	app.Videos = video.NewService(app.VideoStore, app.PlaylistStore, app.Sources, app.Media, jobs)
	require.NoError(t, app.EnableRooms(ctx))
	t.Cleanup(func() {
		cancel()
		app.Close(context.Background())
	})
	return &testServer{app: app, jobs: jobs, router: NewRouter(app)}
}

func (s *testServer) token(t *testing.T, id int64, name string) string {
	t.Helper()
	tok, err := s.app.Tokens.GenerateToken(id, name)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type roomResponse struct {
	Room struct {
		ID           int64    `json:"id"`
		Name         string   `json:"name"`
		IsPrivate    bool     `json:"isPrivate"`
		AccessCode   string   `json:"accessCode"`
		ContentType  string   `json:"contentType"`
		Participants []string `json:"participants"`
		IsHost       bool     `json:"isHost"`
	} `json:"room"`
}

func decodeRoom(t *testing.T, rec *httptest.ResponseRecorder) roomResponse {
	t.Helper()
	var out roomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateRoomRequiresToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/rooms", "", map[string]interface{}{"videoId": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/rooms", "garbage", map[string]interface{}{"videoId": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetPublicRoom(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, 1, "alice")

	rec := s.do(t, http.MethodPost, "/api/rooms", alice, map[string]interface{}{"videoId": 7})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeRoom(t, rec)
	assert.Equal(t, "alice's room", created.Room.Name)
	assert.Equal(t, "video", created.Room.ContentType)
	assert.True(t, created.Room.IsHost)
	assert.Equal(t, []string{"alice"}, created.Room.Participants)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/%d", created.Room.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeRoom(t, rec).Room.IsHost)

	rec = s.do(t, http.MethodGet, "/api/rooms", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"alice's room"`)

	rec = s.do(t, http.MethodPost, "/api/rooms", alice, map[string]interface{}{"videoId": 1, "playlistId": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/rooms/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrivateRoomJoinByCode(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, 1, "alice")
	bob := s.token(t, 2, "bob")

	rec := s.do(t, http.MethodPost, "/api/rooms", alice, map[string]interface{}{"videoId": 7, "isPrivate": true})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeRoom(t, rec)
	require.Len(t, created.Room.AccessCode, model.AccessCodeLength)
	path := fmt.Sprintf("/api/rooms/%d", created.Room.ID)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, path, bob, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path+"/join", bob, nil).Code)
	assert.NotContains(t, s.do(t, http.MethodGet, "/api/rooms", "", nil).Body.String(), created.Room.AccessCode)

	rec = s.do(t, http.MethodPost, "/api/rooms/join-by-code", bob, map[string]string{"accessCode": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/rooms/join-by-code", bob,
		map[string]string{"accessCode": " " + strings.ToLower(created.Room.AccessCode)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	joined := decodeRoom(t, rec)
	assert.Equal(t, []string{"alice", "bob"}, joined.Room.Participants)
	assert.Empty(t, joined.Room.AccessCode, "only the host sees the code")

	rec = s.do(t, http.MethodPost, path+"/join", bob, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "repeat join is not an error")

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path+"/access-code", bob, nil).Code)
	rec = s.do(t, http.MethodPost, path+"/access-code", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.Room.AccessCode)
}

func TestUpdateAndDeleteRoom(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, 1, "alice")
	bob := s.token(t, 2, "bob")

	created := decodeRoom(t, s.do(t, http.MethodPost, "/api/rooms", alice, map[string]interface{}{"playlistId": 3}))
	path := fmt.Sprintf("/api/rooms/%d", created.Room.ID)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPatch, path, bob, map[string]interface{}{"name": "mine"}).Code)

	rec := s.do(t, http.MethodPatch, path, alice, map[string]interface{}{"name": "movie night", "isPrivate": true})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeRoom(t, rec)
	assert.Equal(t, "movie night", updated.Room.Name)
	assert.True(t, updated.Room.IsPrivate)
	assert.Len(t, updated.Room.AccessCode, model.AccessCodeLength)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, path, bob, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, path, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, alice, nil).Code)
}

func TestLeaveRoom(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, 1, "alice")
	bob := s.token(t, 2, "bob")
	created := decodeRoom(t, s.do(t, http.MethodPost, "/api/rooms", alice, map[string]interface{}{"videoId": 1}))
	path := fmt.Sprintf("/api/rooms/%d", created.Room.ID)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/join", bob, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, path+"/leave", bob, nil).Code)
	assert.Equal(t, []string{"alice"}, decodeRoom(t, s.do(t, http.MethodGet, path, "", nil)).Room.Participants)
}

func TestLogoutRevokesAccessProofs(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	host := &model.User{ID: 1, Username: "alice"}
	rm, err := s.app.Registry.Create(ctx, host, room.CreateParams{VideoID: int64p(1), IsPrivate: true})
	require.NoError(t, err)

	carol := s.token(t, 3, "carol")
	claims, err := s.app.Tokens.ParseToken(carol)
	require.NoError(t, err)
	_, err = s.app.Registry.ProveAccess(ctx, *rm.AccessCode, claims.User())
	require.NoError(t, err)

	path := fmt.Sprintf("/api/rooms/%d", rm.ID)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, carol, nil).Code)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/api/auth/logout", carol, nil).Code)
	ok, err := s.app.Access.Has(ctx, claims.SessionID, rm.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, path, carol, nil).Code)
}

func int64p(v int64) *int64 { return &v }

func TestUploadQueuesOneJob(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, 1, "alice")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("title", "pilot"))
	fw, err := mw.CreateFormFile("file", "Pilot.MKV")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not really a video"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Video model.Video `json:"video"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []int64{out.Video.ID}, s.jobs.ids)
	assert.Equal(t, int64(1), out.Video.OwnerID)
	assert.Equal(t, int64(len("not really a video")), out.Video.FileSize)
	assert.True(t, strings.HasPrefix(out.Video.SourcePath, "uploads/"))
	assert.Equal(t, ".mkv", filepath.Ext(out.Video.SourcePath))

	src, err := s.app.Sources.Path(out.Video.SourcePath)
	require.NoError(t, err)
	assert.FileExists(t, src)

	hls := fmt.Sprintf("/api/videos/%d/hls", out.Video.ID)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, hls, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, hls, s.token(t, 2, "bob"), nil).Code)

	rec = s.do(t, http.MethodGet, hls, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view model.HLSProgressView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, model.HLSPending, view.Status)
	assert.Zero(t, view.Progress)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/videos/404/hls", alice, nil).Code)
}

type videoList struct {
	Videos []model.Video `json:"videos"`
}

func listTitles(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out videoList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	titles := make([]string, 0, len(out.Videos))
	for _, v := range out.Videos {
		titles = append(titles, v.Title)
	}
	return titles
}

func TestVideoListIsOwnerScoped(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	alice := s.token(t, 1, "alice")
	base := time.Now().Add(-time.Hour)
	for i, v := range []*model.Video{
		{Title: "Breaking Point", OwnerID: 1},
		{Title: "after the break", OwnerID: 1},
		{Title: "Zoo", OwnerID: 1},
		{Title: "bob's break", OwnerID: 2},
	} {
		v.SourcePath = fmt.Sprintf("uploads/%d.mp4", i)
		v.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.app.VideoStore.Create(ctx, v))
	}

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/videos", "", nil).Code)

	assert.Equal(t, []string{"Zoo", "after the break", "Breaking Point"},
		listTitles(t, s.do(t, http.MethodGet, "/api/videos", alice, nil)))
	assert.Equal(t, []string{"after the break", "Breaking Point"},
		listTitles(t, s.do(t, http.MethodGet, "/api/videos?q=BREAK", alice, nil)))
	assert.Equal(t, []string{"after the break", "Breaking Point", "Zoo"},
		listTitles(t, s.do(t, http.MethodGet, "/api/videos?sort=title", alice, nil)))
	assert.Equal(t, []string{"Zoo", "after the break", "Breaking Point"},
		listTitles(t, s.do(t, http.MethodGet, "/api/videos?sort=id;DROP", alice, nil)))
	assert.Equal(t, []string{"after the break"},
		listTitles(t, s.do(t, http.MethodGet, "/api/videos?sort=title&limit=1", alice, nil)))
	assert.Equal(t, []string{"bob's break"},
		listTitles(t, s.do(t, http.MethodGet, "/api/videos?q=break", s.token(t, 2, "bob"), nil)))
}

func TestVideoDetailAndUpdateAreOwnerOnly(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	alice := s.token(t, 1, "alice")
	bob := s.token(t, 2, "bob")
	v := &model.Video{Title: "pilot", Description: "first", OwnerID: 1, SourcePath: "uploads/pilot.mp4"}
	require.NoError(t, s.app.VideoStore.Create(ctx, v))
	target := fmt.Sprintf("/api/videos/%d", v.ID)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, target, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, target, bob, nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, target, alice, nil).Code)

	rec := s.do(t, http.MethodPatch, target, bob, map[string]string{"title": "stolen"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodPatch, target, alice, map[string]string{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, target, alice, map[string]string{"title": "Pilot (remastered)"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Video model.Video `json:"video"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Pilot (remastered)", out.Video.Title)
	assert.Equal(t, "first", out.Video.Description)

	stored, err := s.app.VideoStore.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pilot (remastered)", stored.Title)
	assert.Equal(t, "first", stored.Description)
}

func TestMyRoomsListsHostedRoomsWithCodes(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, 1, "alice")
	bob := s.token(t, 2, "bob")

	open := decodeRoom(t, s.do(t, http.MethodPost, "/api/rooms", alice, map[string]interface{}{"videoId": 1, "name": "open"}))
	closed := decodeRoom(t, s.do(t, http.MethodPost, "/api/rooms", alice, map[string]interface{}{"videoId": 1, "name": "closed", "isPrivate": true}))
	decodeRoom(t, s.do(t, http.MethodPost, "/api/rooms", bob, map[string]interface{}{"videoId": 1, "name": "bobs"}))
	require.NotEmpty(t, closed.Room.AccessCode)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/rooms/mine", "", nil).Code)

	rec := s.do(t, http.MethodGet, "/api/rooms/mine", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Rooms []struct {
			ID         int64  `json:"id"`
			Name       string `json:"name"`
			AccessCode string `json:"accessCode"`
			IsHost     bool   `json:"isHost"`
		} `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Rooms, 2)
	assert.Equal(t, closed.Room.ID, out.Rooms[0].ID)
	assert.Equal(t, closed.Room.AccessCode, out.Rooms[0].AccessCode)
	assert.Equal(t, open.Room.ID, out.Rooms[1].ID)
	assert.Empty(t, out.Rooms[1].AccessCode)
	assert.True(t, out.Rooms[0].IsHost)
}

func TestPlaylistEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, 1, "alice")
	ctx := context.Background()
	v := &model.Video{Title: "ep1", OwnerID: 1, SourcePath: "uploads/ep1.mp4"}
	require.NoError(t, s.app.VideoStore.Create(ctx, v))

	rec := s.do(t, http.MethodPost, "/api/playlists", alice, map[string]string{"title": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/playlists", alice, map[string]string{"title": "season one"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Playlist model.Playlist `json:"playlist"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	items := fmt.Sprintf("/api/playlists/%d/items", created.Playlist.ID)

	rec = s.do(t, http.MethodPost, items, alice, map[string]interface{}{"videoId": v.ID, "episode": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, items, alice, map[string]interface{}{"videoId": v.ID, "season": 1, "episode": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, items, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order":1`)
}

func TestStatusMapping(t *testing.T) {
	cases := map[error]int{
		room.ErrNotFound:                        http.StatusNotFound,
		video.ErrNotFound:                       http.StatusNotFound,
		room.ErrCapacityExceeded:                http.StatusConflict,
		room.ErrCapacityTooSmall:                http.StatusConflict,
		fmt.Errorf("x: %w", room.ErrForbidden):  http.StatusForbidden,
		room.ErrInvalidAccessCode:               http.StatusBadRequest,
		video.ErrDuplicateEpisode:               http.StatusConflict,
		errBadRequest:                           http.StatusBadRequest,
		fmt.Errorf("disk on fire"):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestMediaServesOnlyStreams(t *testing.T) {
	s := newTestServer(t)
	root := s.app.Config.MediaRoot
	require.NoError(t, os.MkdirAll(filepath.Join(root, "streams", "1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "streams", "1", "master.m3u8"), []byte("#EXTM3U\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "uploads"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "uploads", "a.mp4"), []byte("src"), 0644))

	rec := s.do(t, http.MethodGet, "/media/streams/1/master.m3u8", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "#EXTM3U\n", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/media/uploads/a.mp4", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cotowatch_ws_connections")
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebSocketGuestAndPrivateRooms(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	ctx := context.Background()
	host := &model.User{ID: 1, Username: "alice"}

	public, err := s.app.Registry.Create(ctx, host, room.CreateParams{VideoID: int64p(1)})
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, fmt.Sprintf("/ws/rooms/%d", public.ID)), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, room.MsgHistory, readFrame(t, conn)["type"])
	assert.Equal(t, room.MsgParticipants, readFrame(t, conn)["type"])
	state := readFrame(t, conn)
	assert.Equal(t, room.MsgPlayerState, state["type"])

	private, err := s.app.Registry.Create(ctx, host, room.CreateParams{VideoID: int64p(1), IsPrivate: true})
	require.NoError(t, err)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, fmt.Sprintf("/ws/rooms/%d", private.ID)), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	token := s.token(t, 1, "alice")
	hostConn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, fmt.Sprintf("/ws/rooms/%d?token=%s", private.ID, token)), nil)
	require.NoError(t, err)
	defer hostConn.Close()
	assert.Equal(t, room.MsgHistory, readFrame(t, hostConn)["type"])
}
