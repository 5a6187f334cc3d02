package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealtodo/internal/fakeremote"
	"github.com/surrealdb/surrealtodo/pkg/connection"
	httpconn "github.com/surrealdb/surrealtodo/pkg/connection/http"
	"github.com/surrealdb/surrealtodo/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealtodo/pkg/models"
)

func config(baseURL string) *connection.Config {
	return &connection.Config{BaseURL: baseURL, Namespace: "app", Database: "todo", Timeout: 2 * time.Second}
}

func baseTask() *models.Task {
	return &models.Task{
		ID:      "t1",
		Title:   "Plan week",
		Status:  "Not started",
		Project: models.RelationProperty("p1"),
	}
}

func TestPatchCoversEveryKind(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	payloads := []models.Payload{
		models.StatusPayload{Status: "Done"},
		models.CheckboxPayload{Done: true},
		models.TitlePayload{Title: "x"},
		models.DoDatePayload{Date: &day},
		models.DueDatePayload{},
		models.CompletedDatePayload{Date: &day},
		models.TaskTypePayload{Value: models.SelectProperty(models.SelectOption{Name: "Bug"})},
		models.ProjectPayload{Value: models.RelationProperty("p2")},
		models.URLPayload{URL: "https://example.com"},
	}
	require.Len(t, payloads, len(models.Kinds))
	for _, p := range payloads {
		t.Run(string(p.Kind()), func(t *testing.T) {
			assert.Len(t, Patch(p), 1)
		})
	}
}

func TestDocumentClient(t *testing.T) {
	server := fakeremote.NewServer(DefaultTable)
	defer server.Close()

	transports := map[string]func(t *testing.T) connection.Sender{
		"http": func(t *testing.T) connection.Sender {
			return httpconn.New(config(server.URL()))
		},
		"websocket": func(t *testing.T) connection.Sender {
			conn := gorillaws.New(config(server.WSURL()))
			require.NoError(t, conn.Connect(context.Background()))
			t.Cleanup(func() { _ = conn.Close(context.Background()) })
			return conn
		},
	}

	for name, dial := range transports {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, server.Put(baseTask()))
			client := NewDocumentClient(dial(t))
			ctx := context.Background()

			require.NoError(t, client.Ping(ctx))

			got, err := client.FetchTask(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, models.TaskID("t1"), got.ID)
			assert.Equal(t, "Plan week", got.Title)
			assert.True(t, got.Project.Equal(models.RelationProperty("p1")))

			due := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
			for _, p := range []models.Payload{
				models.StatusPayload{Status: "Done"},
				models.DueDatePayload{Date: &due},
				models.ProjectPayload{Value: models.RelationProperty("p2", "p3")},
			} {
				m := models.PendingMutation{ID: models.NewID(), RecordID: "t1", Kind: p.Kind(), Payload: p}
				require.NoError(t, client.Apply(ctx, m))
			}

			got, err = client.FetchTask(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "Done", got.Status)
			require.NotNil(t, got.DueDate)
			assert.True(t, got.DueDate.Equal(due))
			assert.True(t, got.Project.Equal(models.RelationProperty("p3", "p2")))
			assert.Equal(t, "Plan week", got.Title)

			tasks, err := client.ListTasks(ctx)
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, models.TaskID("t1"), tasks[0].ID)
		})
	}
}

func TestDocumentClientNotFound(t *testing.T) {
	server := fakeremote.NewServer(DefaultTable)
	defer server.Close()
	client := NewDocumentClient(httpconn.New(config(server.URL())))
	ctx := context.Background()

	_, err := client.FetchTask(ctx, "gone")
	require.ErrorIs(t, err, ErrNotFound)

	m := models.PendingMutation{ID: models.NewID(), RecordID: "gone", Kind: models.KindTitle, Payload: models.TitlePayload{Title: "x"}}
	require.ErrorIs(t, client.Apply(ctx, m), ErrNotFound)
	assert.False(t, connection.IsTransient(client.Apply(ctx, m)))
}

func TestDocumentClientRejectsInvalidPayload(t *testing.T) {
	server := fakeremote.NewServer(DefaultTable)
	defer server.Close()
	client := NewDocumentClient(httpconn.New(config(server.URL())))

	m := models.PendingMutation{ID: models.NewID(), RecordID: "t1", Kind: models.KindStatus, Payload: models.TitlePayload{Title: "x"}}
	require.ErrorIs(t, client.Apply(context.Background(), m), models.ErrInvalidPayload)
	assert.Empty(t, server.Calls(connection.MethodMerge))
}

func TestDocumentClientTimeout(t *testing.T) {
	server := fakeremote.NewServer(DefaultTable)
	defer server.Close()
	require.NoError(t, server.Put(baseTask()))
	server.AddStubResponse(fakeremote.StubResponse{
		Matcher: fakeremote.RequestMatcher{Method: connection.MethodSelect},
		Delay:   500 * time.Millisecond,
	})

	client := NewDocumentClient(httpconn.New(config(server.URL())), WithTimeout(50*time.Millisecond))
	_, err := client.FetchTask(context.Background(), "t1")
	require.Error(t, err)
	assert.True(t, connection.IsTransient(err))
}
