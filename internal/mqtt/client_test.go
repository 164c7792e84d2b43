package mqtt

import (
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-actigraphy/internal/config"
)

// fakeToken 立即完成的 token
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type mockPaho struct {
	paho.Client
	mock.Mock
}

func (m *mockPaho) Connect() paho.Token {
	return m.Called().Get(0).(paho.Token)
}

func (m *mockPaho) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(paho.Token)
}

func (m *mockPaho) Disconnect(quiesce uint) { m.Called(quiesce) }

func (m *mockPaho) IsConnected() bool { return m.Called().Bool(0) }

func TestClient_Publish(t *testing.T) {
	p := &mockPaho{}
	p.On("Connect").Return(&fakeToken{})
	p.On("Publish", "actigraphy/s1", byte(1), false, []byte("{}")).Return(&fakeToken{})
	p.On("Publish", "actigraphy/s2", byte(1), false, []byte("{}")).Return(&fakeToken{err: errors.New("not connected")})
	p.On("Disconnect", uint(250)).Return()
	p.On("IsConnected").Return(true)

	c, err := newClient(p, &config.MQTTConfig{QoS: 1}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, c.IsConnected())
	assert.Equal(t, byte(1), c.QoS())

	require.NoError(t, c.Publish("actigraphy/s1", 1, false, []byte("{}")))
	err = c.Publish("actigraphy/s2", 1, false, []byte("{}"))
	assert.ErrorContains(t, err, "actigraphy/s2")

	c.Disconnect()
	p.AssertExpectations(t)
}

func TestClient_ConnectError(t *testing.T) {
	p := &mockPaho{}
	p.On("Connect").Return(&fakeToken{err: errors.New("refused")})

	_, err := newClient(p, &config.MQTTConfig{}, zap.NewNop())
	assert.ErrorContains(t, err, "refused")
}
