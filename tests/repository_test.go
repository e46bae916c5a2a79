// Package tests contains test cases for models and repository packages to avoid circular imports
package tests

import (
	"sync"
	"testing"

	"github.com/amirphl/Kotodama/models"
	"github.com/amirphl/Kotodama/repository"
	testingutil "github.com/amirphl/Kotodama/testing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withDB runs the test body against a freshly migrated database and skips
// when no postgres server is reachable.
func withDB(t *testing.T, fn func(testDB *testingutil.TestDB)) {
	t.Helper()

	testDB, err := testingutil.SetupTestDB()
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer func() {
		if err := testDB.TeardownTestDB(); err != nil {
			t.Logf("failed to teardown test database: %v", err)
		}
	}()

	fn(testDB)
}

func TestApplicationRepository(t *testing.T) {
	withDB(t, func(testDB *testingutil.TestDB) {
		repo := repository.NewApplicationRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("SaveAssignsToken", func(t *testing.T) {
			app := &models.Application{Name: "inbox"}
			require.NoError(t, repo.Save(ctx, app))
			assert.NotZero(t, app.ID)
			assert.NotEqual(t, uuid.Nil, app.Token)
			assert.Zero(t, app.ChatsCount)
		})

		t.Run("ByToken", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			found, err := repo.ByToken(ctx, app.Token.String())
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, app.ID, found.ID)
			assert.Equal(t, app.Name, found.Name)
		})

		t.Run("ByTokenNotFound", func(t *testing.T) {
			found, err := repo.ByToken(ctx, "00000000-0000-0000-0000-000000000000")
			assert.NoError(t, err)
			assert.Nil(t, found)
		})

		t.Run("ChatsCount", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			count, exists, err := repo.ChatsCount(ctx, app.ID)
			require.NoError(t, err)
			assert.True(t, exists)
			assert.Equal(t, int64(0), count)

			count, exists, err = repo.ChatsCount(ctx, 999999)
			require.NoError(t, err)
			assert.False(t, exists)
			assert.Equal(t, int64(0), count)
		})

		t.Run("CompareAndSwapChatsCount", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			swapped, stored, err := repo.CompareAndSwapChatsCount(ctx, app.ID, 0, 1)
			require.NoError(t, err)
			assert.True(t, swapped)
			assert.Equal(t, int64(1), stored)

			// A stale expectation must not overwrite the counter.
			swapped, stored, err = repo.CompareAndSwapChatsCount(ctx, app.ID, 0, 2)
			require.NoError(t, err)
			assert.False(t, swapped)
			assert.Equal(t, int64(1), stored)

			swapped, stored, err = repo.CompareAndSwapChatsCount(ctx, app.ID, 1, 2)
			require.NoError(t, err)
			assert.True(t, swapped)
			assert.Equal(t, int64(2), stored)
		})

		t.Run("CompareAndSwapChatsCountConcurrent", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			const workers = 10
			var wg sync.WaitGroup
			wins := make(chan int64, workers)

			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					swapped, _, err := repo.CompareAndSwapChatsCount(ctx, app.ID, 0, 1)
					if assert.NoError(t, err) && swapped {
						wins <- 1
					}
				}()
			}
			wg.Wait()
			close(wins)

			total := 0
			for range wins {
				total++
			}
			assert.Equal(t, 1, total, "only one writer may win the swap from 0 to 1")

			count, _, err := repo.ChatsCount(ctx, app.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})

		t.Run("HasChats", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			has, err := repo.HasChats(ctx, app.ID)
			require.NoError(t, err)
			assert.False(t, has)

			_, err = fixtures.CreateTestChat(app, 1)
			require.NoError(t, err)

			has, err = repo.HasChats(ctx, app.ID)
			require.NoError(t, err)
			assert.True(t, has)
		})

		t.Run("Delete", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			require.NoError(t, repo.Delete(ctx, app.ID))

			found, err := repo.ByToken(ctx, app.Token.String())
			require.NoError(t, err)
			assert.Nil(t, found)
		})

		t.Run("ByFilter", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			apps, err := repo.ByFilter(ctx, models.ApplicationFilter{Token: &app.Token}, "", 0, 0)
			require.NoError(t, err)
			require.Len(t, apps, 1)
			assert.Equal(t, app.ID, apps[0].ID)
		})
	})
}

func TestChatRepository(t *testing.T) {
	withDB(t, func(testDB *testingutil.TestDB) {
		repo := repository.NewChatRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("SaveIfAbsent", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			chat := &models.Chat{ApplicationID: app.ID, Number: 1}
			created, err := repo.SaveIfAbsent(ctx, chat)
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotZero(t, chat.ID)
		})

		t.Run("SaveIfAbsentDuplicateNumber", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			first := &models.Chat{ApplicationID: app.ID, Number: 1}
			created, err := repo.SaveIfAbsent(ctx, first)
			require.NoError(t, err)
			require.True(t, created)

			// The same job replayed after a crash finds the row already there.
			replay := &models.Chat{ApplicationID: app.ID, Number: 1}
			created, err = repo.SaveIfAbsent(ctx, replay)
			require.NoError(t, err)
			assert.False(t, created)

			count, err := repo.Count(ctx, models.ChatFilter{ApplicationID: &app.ID})
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})

		t.Run("SameNumberAcrossApplications", func(t *testing.T) {
			appA, err := fixtures.CreateTestApplication()
			require.NoError(t, err)
			appB, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			created, err := repo.SaveIfAbsent(ctx, &models.Chat{ApplicationID: appA.ID, Number: 1})
			require.NoError(t, err)
			assert.True(t, created)

			created, err = repo.SaveIfAbsent(ctx, &models.Chat{ApplicationID: appB.ID, Number: 1})
			require.NoError(t, err)
			assert.True(t, created, "numbers are scoped per application")
		})

		t.Run("ByApplicationAndNumber", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)
			chat, err := fixtures.CreateTestChat(app, 7)
			require.NoError(t, err)

			found, err := repo.ByApplicationAndNumber(ctx, app.ID, 7)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, chat.ID, found.ID)

			found, err = repo.ByApplicationAndNumber(ctx, app.ID, 8)
			require.NoError(t, err)
			assert.Nil(t, found)
		})

		t.Run("ListByApplicationOrder", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			// Insert out of order; listing must come back by number.
			for _, n := range []int64{3, 1, 2} {
				_, err := fixtures.CreateTestChat(app, n)
				require.NoError(t, err)
			}

			chats, err := repo.ListByApplication(ctx, app.ID, 0, 0)
			require.NoError(t, err)
			require.Len(t, chats, 3)
			for i, chat := range chats {
				assert.Equal(t, int64(i+1), chat.Number)
			}

			chats, err = repo.ListByApplication(ctx, app.ID, 2, 1)
			require.NoError(t, err)
			require.Len(t, chats, 2)
			assert.Equal(t, int64(2), chats[0].Number)
		})

		t.Run("CompareAndSwapMessagesCount", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)
			chat, err := fixtures.CreateTestChat(app, 1)
			require.NoError(t, err)

			swapped, stored, err := repo.CompareAndSwapMessagesCount(ctx, chat.ID, 0, 1)
			require.NoError(t, err)
			assert.True(t, swapped)
			assert.Equal(t, int64(1), stored)

			swapped, stored, err = repo.CompareAndSwapMessagesCount(ctx, chat.ID, 5, 6)
			require.NoError(t, err)
			assert.False(t, swapped)
			assert.Equal(t, int64(1), stored)
		})

		t.Run("HasMessagesAndDelete", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)
			chat, err := fixtures.CreateTestChat(app, 1)
			require.NoError(t, err)

			has, err := repo.HasMessages(ctx, chat.ID)
			require.NoError(t, err)
			assert.False(t, has)

			_, err = fixtures.CreateTestMessage(chat, 1, "hello")
			require.NoError(t, err)

			has, err = repo.HasMessages(ctx, chat.ID)
			require.NoError(t, err)
			assert.True(t, has)

			empty, err := fixtures.CreateTestChat(app, 2)
			require.NoError(t, err)
			require.NoError(t, repo.Delete(ctx, empty.ID))

			found, err := repo.ByApplicationAndNumber(ctx, app.ID, 2)
			require.NoError(t, err)
			assert.Nil(t, found)
		})

		t.Run("DeleteKeepsCounter", func(t *testing.T) {
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)

			appRepo := repository.NewApplicationRepository(testDB.DB)
			swapped, _, err := appRepo.CompareAndSwapChatsCount(ctx, app.ID, 0, 3)
			require.NoError(t, err)
			require.True(t, swapped)

			chat, err := fixtures.CreateTestChat(app, 3)
			require.NoError(t, err)
			require.NoError(t, repo.Delete(ctx, chat.ID))

			// Deleting the highest chat must not wind the counter back.
			count, _, err := appRepo.ChatsCount(ctx, app.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(3), count)
		})
	})
}

func TestMessageRepository(t *testing.T) {
	withDB(t, func(testDB *testingutil.TestDB) {
		repo := repository.NewMessageRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		newChat := func(t *testing.T) *models.Chat {
			t.Helper()
			app, err := fixtures.CreateTestApplication()
			require.NoError(t, err)
			chat, err := fixtures.CreateTestChat(app, 1)
			require.NoError(t, err)
			return chat
		}

		t.Run("SaveIfAbsent", func(t *testing.T) {
			chat := newChat(t)

			msg := &models.Message{ChatID: chat.ID, Number: 1, Text: "first"}
			created, err := repo.SaveIfAbsent(ctx, msg)
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotZero(t, msg.ID)

			replay := &models.Message{ChatID: chat.ID, Number: 1, Text: "first"}
			created, err = repo.SaveIfAbsent(ctx, replay)
			require.NoError(t, err)
			assert.False(t, created)
		})

		t.Run("ByChatAndNumber", func(t *testing.T) {
			chat := newChat(t)
			msg, err := fixtures.CreateTestMessage(chat, 4, "lookup target")
			require.NoError(t, err)

			found, err := repo.ByChatAndNumber(ctx, chat.ID, 4)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, msg.ID, found.ID)
			assert.Equal(t, "lookup target", found.Text)

			found, err = repo.ByChatAndNumber(ctx, chat.ID, 5)
			require.NoError(t, err)
			assert.Nil(t, found)
		})

		t.Run("ListByChatOrder", func(t *testing.T) {
			chat := newChat(t)
			for _, n := range []int64{2, 3, 1} {
				_, err := fixtures.CreateTestMessage(chat, n, "")
				require.NoError(t, err)
			}

			messages, err := repo.ListByChat(ctx, chat.ID, 0, 0)
			require.NoError(t, err)
			require.Len(t, messages, 3)
			for i, msg := range messages {
				assert.Equal(t, int64(i+1), msg.Number)
			}
		})

		t.Run("ByIDs", func(t *testing.T) {
			chat := newChat(t)
			first, err := fixtures.CreateTestMessage(chat, 1, "one")
			require.NoError(t, err)
			second, err := fixtures.CreateTestMessage(chat, 2, "two")
			require.NoError(t, err)

			messages, err := repo.ByIDs(ctx, []uint{second.ID, first.ID})
			require.NoError(t, err)
			require.Len(t, messages, 2)

			messages, err = repo.ByIDs(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, messages)
		})

		t.Run("Delete", func(t *testing.T) {
			chat := newChat(t)
			msg, err := fixtures.CreateTestMessage(chat, 1, "doomed")
			require.NoError(t, err)

			require.NoError(t, repo.Delete(ctx, msg.ID))

			found, err := repo.ByChatAndNumber(ctx, chat.ID, 1)
			require.NoError(t, err)
			assert.Nil(t, found)
		})
	})
}
