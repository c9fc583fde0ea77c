package chatclient

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type composerFixture struct {
	table *memTable
	store *Store
	typed *recordingBroadcaster
	c     *Composer
}

func newComposerFixture(t *testing.T, table *memTable, user models.Identity, mode ReactionMode) *composerFixture {
	t.Helper()
	store := NewStore(table.as(user), general)
	require.NoError(t, store.Load(context.Background(), general, 50))
	typed := &recordingBroadcaster{}
	typingB := NewTypingBroadcaster(typed, user, nil)
	t.Cleanup(typingB.Stop)
	return &composerFixture{
		table: table,
		store: store,
		typed: typed,
		c: NewComposer(ComposerConfig{
			Table:        table.as(user),
			Store:        store,
			Session:      StaticSession(user),
			Directory:    table.as(user),
			Typing:       typingB,
			Uploader:     NewAttachmentUploader(&memStorage{}, 1024, nil),
			ReactionMode: mode,
		}),
	}
}

func newTable() *memTable {
	table := newMemTable()
	table.organizers[tournament] = organizer.ID
	return table
}

func TestComposer_SendShowsOptimisticCopyThenReconciles(t *testing.T) {
	table := newTable()
	table.insertGate = make(chan struct{})
	f := newComposerFixture(t, table, alice, ReactionsAtomic)
	f.c.SetDraft("hello team")

	var (
		wg   sync.WaitGroup
		sent *models.ChatMessage
		err  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sent, err = f.c.Send(context.Background(), SendInput{Body: f.c.Draft()})
	}()

	require.Eventually(t, storeHas(f.store, 1), waitFor, time.Millisecond)
	pending := f.store.Messages()[0]
	assert.True(t, pending.IsOptimistic())
	assert.NotEmpty(t, pending.ClientRef)
	assert.Equal(t, "hello team", pending.Body)
	assert.True(t, f.c.Sending())

	_, dupErr := f.c.Send(context.Background(), SendInput{Body: "double click"})
	assert.ErrorIs(t, dupErr, ErrSendInProgress)

	close(table.insertGate)
	wg.Wait()
	require.NoError(t, err)

	assert.Equal(t, []string{sent.ID}, ids(f.store.Messages()))
	assert.False(t, f.store.Messages()[0].IsOptimistic())
	assert.Equal(t, pending.ClientRef, sent.ClientRef)
	assert.Empty(t, f.c.Draft())
	assert.False(t, f.c.Sending())
	require.Eventually(t, func() bool { return len(f.typed.typingFlags()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, f.typed.typingFlags())
}

func TestComposer_SendFailureDropsCopyAndKeepsDraft(t *testing.T) {
	table := newTable()
	table.insertErr = errBoom
	f := newComposerFixture(t, table, alice, ReactionsAtomic)
	f.c.SetDraft("will fail")

	_, err := f.c.Send(context.Background(), SendInput{Body: "will fail"})
	require.ErrorIs(t, err, errBoom)
	assert.Zero(t, f.store.Len())
	assert.Equal(t, "will fail", f.c.Draft())
	assert.False(t, f.c.Sending())
}

func TestComposer_SendValidation(t *testing.T) {
	f := newComposerFixture(t, newTable(), alice, ReactionsAtomic)

	_, err := f.c.Send(context.Background(), SendInput{Body: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.c.Send(context.Background(), SendInput{Kind: models.KindImage})
	assert.ErrorIs(t, err, models.ErrAttachmentRequired)

	_, err = f.c.Send(context.Background(), SendInput{Body: "x", Kind: "sticker"})
	assert.ErrorIs(t, err, models.ErrInvalidMessageKind)
	assert.Zero(t, f.store.Len())
}

func TestComposer_SendReply(t *testing.T) {
	table := newTable()
	seeded := table.seed(general, bob.ID, "who's in?")
	f := newComposerFixture(t, table, alice, ReactionsAtomic)

	sent, err := f.c.Send(context.Background(), SendInput{Body: "me", ReplyToID: &seeded[0].ID})
	require.NoError(t, err)
	require.NotNil(t, sent.ReplyToID)
	assert.Equal(t, "m1", *sent.ReplyToID)
}

func TestComposer_EditIsSenderOnly(t *testing.T) {
	table := newTable()
	table.seed(general, alice.ID, "typo")
	table.seed(general, bob.ID, "bob's")

	f := newComposerFixture(t, table, alice, ReactionsAtomic)
	edited, err := f.c.Edit(context.Background(), "m1", "fixed")
	require.NoError(t, err)
	assert.True(t, edited.Flags.IsEdited)
	assert.NotNil(t, edited.EditedAt)

	got, _ := f.store.Get("m1")
	assert.Equal(t, "fixed", got.Body)
	assert.True(t, got.Flags.IsEdited)

	_, err = f.c.Edit(context.Background(), "m2", "hijack")
	assert.ErrorIs(t, err, ErrNotPermitted)
	row, _ := table.row("m2")
	assert.Equal(t, "bob's", row.Body)

	_, err = f.c.Edit(context.Background(), "m1", " ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = f.c.Edit(context.Background(), "nope", "x")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestComposer_DeletePermissions(t *testing.T) {
	cases := []struct {
		name  string
		actor models.Identity
		ok    bool
	}{
		{"sender", bob, true},
		{"tournament organizer", organizer, true},
		{"admin", adminUser, true},
		{"another player", alice, false},
		{"organizer of another tournament", outsiderOrg, false},
		{"moderator", moderator, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			table := newTable()
			table.seed(general, bob.ID, "to delete", "stays")
			f := newComposerFixture(t, table, tc.actor, ReactionsAtomic)

			err := f.c.Delete(context.Background(), "m1")
			if !tc.ok {
				assert.ErrorIs(t, err, ErrNotPermitted)
				assert.Equal(t, 2, f.store.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"m2"}, ids(f.store.Messages()))
			_, exists := table.row("m1")
			assert.False(t, exists)
		})
	}
}

func TestComposer_PinPermissions(t *testing.T) {
	for _, tc := range []struct {
		actor models.Identity
		ok    bool
	}{
		{organizer, true},
		{moderator, true},
		{adminUser, true},
		{alice, false},
		{outsiderOrg, false},
	} {
		table := newTable()
		table.seed(general, bob.ID, "rules")
		f := newComposerFixture(t, table, tc.actor, ReactionsAtomic)

		pinned, err := f.c.Pin(context.Background(), "m1", true)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrNotPermitted, tc.actor.DisplayName)
			continue
		}
		require.NoError(t, err, tc.actor.DisplayName)
		assert.True(t, pinned.Flags.IsPinned)
		got, _ := f.store.Get("m1")
		assert.True(t, got.Flags.IsPinned)
	}
}

func TestComposer_ReactionRoundTrip(t *testing.T) {
	for _, mode := range []ReactionMode{ReactionsAtomic, ReactionsReplace} {
		table := newTable()
		table.seed(general, bob.ID, "gg")
		f := newComposerFixture(t, table, alice, mode)
		before, _ := f.store.Get("m1")

		after, err := f.c.React(context.Background(), "m1", "🔥")
		require.NoError(t, err)
		assert.True(t, after.Reactions.Has("🔥", alice.ID))
		assert.Equal(t, 1, after.Reactions["🔥"].Count)

		back, err := f.c.React(context.Background(), "m1", "🔥")
		require.NoError(t, err)
		assert.Equal(t, before.Reactions, back.Reactions)
		got, _ := f.store.Get("m1")
		assert.Empty(t, got.Reactions)
	}
}

func TestComposer_ReactValidation(t *testing.T) {
	f := newComposerFixture(t, newTable(), alice, ReactionsAtomic)
	_, err := f.c.React(context.Background(), "m1", " ")
	assert.ErrorIs(t, err, ErrEmojiRequired)
	_, err = f.c.React(context.Background(), "m1", "👍")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

// Two users react from the same snapshot. Writing the whole map back from a
// stale copy is refused; the server-side toggle keeps both.
func TestComposer_ConcurrentReactions(t *testing.T) {
	run := func(mode ReactionMode) (models.Reactions, error) {
		table := newTable()
		table.seed(general, organizer.ID, "match starts at 18:00")
		a := newComposerFixture(t, table, alice, mode)
		b := newComposerFixture(t, table, bob, mode)

		_, err := a.c.React(context.Background(), "m1", "👍")
		require.NoError(t, err)
		_, bobErr := b.c.React(context.Background(), "m1", "👍")

		row, _ := table.row("m1")
		return row.Reactions, bobErr
	}

	stale, err := run(ReactionsReplace)
	assert.True(t, IsStatus(err, 409), "stale whole-map write is refused: %v", err)
	assert.Equal(t, []int{alice.ID}, stale["👍"].UserIDs, "alice's reaction survives")

	atomic, err := run(ReactionsAtomic)
	require.NoError(t, err)
	assert.Equal(t, 2, atomic["👍"].Count)
	assert.Equal(t, []int{alice.ID, bob.ID}, atomic["👍"].UserIDs)
}

func TestComposer_SendFile(t *testing.T) {
	f := newComposerFixture(t, newTable(), alice, ReactionsAtomic)

	sent, err := f.c.SendFile(context.Background(), File{
		Name:        "bracket.png",
		ContentType: "image/png",
		Size:        4,
		Reader:      strings.NewReader("PNG!"),
	}, "final bracket")
	require.NoError(t, err)
	assert.Equal(t, models.KindImage, sent.Kind)
	require.NotNil(t, sent.Attachment)
	assert.Equal(t, "bracket.png", sent.Attachment.FileName)
	assert.True(t, strings.HasPrefix(sent.Attachment.URL, "https://cdn.test/chat-media/"))
	assert.Equal(t, "final bracket", sent.Body)

	_, err = f.c.SendFile(context.Background(), File{
		Name:        "huge.mp4",
		ContentType: "video/mp4",
		Size:        4096,
		Reader:      strings.NewReader("...."),
	}, "")
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, 1, f.store.Len(), "nothing is sent when the upload fails")
}
