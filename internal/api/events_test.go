package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bonus_system/internal/model"
	"bonus_system/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestEvents_DeliversProjectNotifications(t *testing.T) {
	h := newHarness(t)
	project := testProject()
	h.projects.On("GetProject", mock.Anything, project.ID).Return(project, nil)

	srv := httptest.NewServer(h.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/projects/" + project.ID.String() + "/events?token=" + adminToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return h.hub.Subscribers(project.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// other projects' events are not delivered
	h.hub.Publish(model.Notification{ProjectID: uuid.New(), UserID: uuid.New(), Type: model.NotifyWelcome, Message: "elsewhere"})
	h.hub.Publish(model.Notification{ProjectID: project.ID, UserID: uuid.New(), Type: model.NotifyBonusEarned, Message: "You earned 12.50 bonuses"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	assert.Equal(t, "notification", gjson.GetBytes(msg, "type").String())
	assert.Equal(t, "bonus_earned", gjson.GetBytes(msg, "payload.type").String())
	assert.Equal(t, "You earned 12.50 bonuses", gjson.GetBytes(msg, "payload.message").String())

	conn.Close()
	require.Eventually(t, func() bool {
		return h.hub.Subscribers(project.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEvents_RejectsUnknownProject(t *testing.T) {
	h := newHarness(t)
	missing := testProject()
	h.projects.On("GetProject", mock.Anything, missing.ID).Return(nil, service.ErrProjectNotFound)

	w := h.admin(http.MethodGet, "/api/v1/projects/"+missing.ID.String()+"/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
