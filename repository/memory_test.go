package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cotowatch/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryVideoJobState(t *testing.T) {
	repo := NewMemoryVideoRepository()
	ctx := context.Background()

	v := &model.Video{Title: "pilot", OwnerID: 1, SourcePath: "videos/pilot.mkv"}
	require.NoError(t, repo.Create(ctx, v))
	assert.Equal(t, int64(1), v.ID)
	assert.Equal(t, model.HLSPending, v.HLSStatus)

	require.NoError(t, repo.SaveJobState(ctx, v.ID, model.JobState{Progress: 42, Status: model.HLSTranscode, Log: "frame=1"}))
	st, err := repo.GetJobState(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, st.Progress)
	assert.Equal(t, model.HLSTranscode, st.Status)

	_, err = repo.GetJobState(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.SaveJobState(ctx, 99, model.JobState{}), ErrNotFound)

	d := 120.0
	require.NoError(t, repo.UpdateMetadata(ctx, v.ID, &d, 4096))
	got, _ := repo.GetByID(ctx, v.ID)
	assert.True(t, got.HasMetadata())
}

func TestMemoryVideoListFiltersByStatus(t *testing.T) {
	repo := NewMemoryVideoRepository()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &model.Video{Title: fmt.Sprint(i)}))
	}
	require.NoError(t, repo.SaveJobState(ctx, 2, model.JobState{Status: model.HLSDone, Progress: 100}))

	done, err := repo.List(ctx, VideoFilter{Status: model.HLSDone, Limit: 10})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, int64(2), done[0].ID)

	all, _ := repo.List(ctx, VideoFilter{Limit: 2})
	assert.Len(t, all, 2)
}

func videoIDs(videos []*model.Video) []int64 {
	ids := make([]int64, 0, len(videos))
	for _, v := range videos {
		ids = append(ids, v.ID)
	}
	return ids
}

func TestMemoryVideoListOwnerSearchAndSort(t *testing.T) {
	repo := NewMemoryVideoRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []model.Video{
		{Title: "Breaking Point", Description: "season one", OwnerID: 1, HLSProgress: 40},
		{Title: "alpine diaries", Description: "a BREAK from work", OwnerID: 1, HLSProgress: 100},
		{Title: "Cooking", Description: "pasta", OwnerID: 1, HLSProgress: 10},
		{Title: "Break dance", OwnerID: 2},
	}
	for i := range seed {
		seed[i].CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Create(ctx, &seed[i]))
	}

	mine, err := repo.List(ctx, VideoFilter{OwnerID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, videoIDs(mine), "newest first by default")

	found, err := repo.List(ctx, VideoFilter{OwnerID: 1, Query: "  break "})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, videoIDs(found), "title or description, case-insensitive")

	cases := map[string][]int64{
		"created_at":    {1, 2, 3},
		"title":         {2, 1, 3},
		"-title":        {3, 1, 2},
		"hls_progress":  {3, 1, 2},
		"-hls_progress": {2, 1, 3},
		"views; DROP":   {3, 2, 1},
	}
	for sortBy, want := range cases {
		got, err := repo.List(ctx, VideoFilter{OwnerID: 1, Sort: sortBy})
		require.NoError(t, err)
		assert.Equal(t, want, videoIDs(got), sortBy)
	}
}

func TestMemoryVideoUpdateDetails(t *testing.T) {
	repo := NewMemoryVideoRepository()
	ctx := context.Background()
	v := &model.Video{Title: "draft", OwnerID: 1}
	require.NoError(t, repo.Create(ctx, v))

	require.NoError(t, repo.UpdateDetails(ctx, v.ID, "final cut", "director's version"))
	got, err := repo.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "final cut", got.Title)
	assert.Equal(t, "director's version", got.Description)

	assert.ErrorIs(t, repo.UpdateDetails(ctx, 99, "x", ""), ErrNotFound)
}

func TestMemoryRoomCapacityUnderConcurrency(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()
	vid := int64(1)
	room := &model.Room{Name: "r", HostID: 1, VideoID: &vid, Capacity: 5}
	require.NoError(t, repo.Create(ctx, room, &model.RoomParticipant{UserID: 1, Username: "host"}))

	var wg sync.WaitGroup
	for u := int64(2); u < 30; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			_ = repo.AddParticipant(ctx, &model.RoomParticipant{RoomID: room.ID, UserID: u}, room.Capacity)
		}(u)
	}
	wg.Wait()

	n, err := repo.CountParticipants(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	err = repo.AddParticipant(ctx, &model.RoomParticipant{RoomID: room.ID, UserID: 1}, 100)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryRecentMessagesOldestFirst(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 60; i++ {
		require.NoError(t, repo.CreateMessage(ctx, &model.ChatMessage{
			RoomID: 1, Content: fmt.Sprint(i), CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	msgs, err := repo.RecentMessages(ctx, 1, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 50)
	assert.Equal(t, "10", msgs[0].Content)
	assert.Equal(t, "59", msgs[49].Content)
}

func TestMemoryRoomDeleteCascades(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()
	pl := int64(3)
	room := &model.Room{Name: "r", HostID: 1, PlaylistID: &pl, Capacity: 2}
	require.NoError(t, repo.Create(ctx, room, &model.RoomParticipant{UserID: 1}))
	require.NoError(t, repo.CreateMessage(ctx, &model.ChatMessage{RoomID: room.ID, Content: "hi"}))

	require.NoError(t, repo.Delete(ctx, room.ID))
	msgs, _ := repo.RecentMessages(ctx, room.ID, 50)
	assert.Empty(t, msgs)
	n, _ := repo.CountParticipants(ctx, room.ID)
	assert.Zero(t, n)
	got, _ := repo.GetByID(ctx, room.ID)
	assert.Nil(t, got)
}

func TestMemoryAccessCodeLookupIgnoresPublicRooms(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()
	vid := int64(1)
	code := "ABCD1234"
	require.NoError(t, repo.Create(ctx, &model.Room{Name: "p", VideoID: &vid, IsPrivate: true, AccessCode: &code}, nil))

	got, err := repo.GetByAccessCode(ctx, "ABCD1234")
	require.NoError(t, err)
	require.NotNil(t, got)

	dup := "ABCD1234"
	err = repo.Create(ctx, &model.Room{Name: "q", VideoID: &vid, IsPrivate: true, AccessCode: &dup}, nil)
	assert.ErrorIs(t, err, ErrDuplicate)

	got, _ = repo.GetByAccessCode(ctx, "ZZZZ0000")
	assert.Nil(t, got)
}

func TestMemoryPlaylistOrdering(t *testing.T) {
	repo := NewMemoryPlaylistRepository()
	ctx := context.Background()
	p := &model.Playlist{Title: "Show", OwnerID: 1}
	require.NoError(t, repo.Create(ctx, p))

	first := &model.PlaylistItem{PlaylistID: p.ID, Season: 1, Episode: 1, VideoID: 10}
	second := &model.PlaylistItem{PlaylistID: p.ID, Season: 1, Episode: 2, VideoID: 11}
	require.NoError(t, repo.AppendItem(ctx, first))
	require.NoError(t, repo.AppendItem(ctx, second))
	assert.Less(t, first.Order, second.Order)

	err := repo.AppendItem(ctx, &model.PlaylistItem{PlaylistID: p.ID, Season: 1, Episode: 2, VideoID: 12})
	assert.ErrorIs(t, err, ErrDuplicate)

	items, err := repo.Items(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(10), items[0].VideoID)

	assert.ErrorIs(t, repo.AppendItem(ctx, &model.PlaylistItem{PlaylistID: 42}), ErrNotFound)
}
