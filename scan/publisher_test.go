package scan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPublisher_Defaults(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	p := NewPublisher(nil)
	assert.Equal(t, "scanreg", p.publishPrefix)
	assert.Equal(t, byte(0), p.qos)
	assert.True(t, p.retain)
}

func TestNewPublisher_PrefixOverride(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "site7")

	p := NewPublisher(nil)
	assert.Equal(t, "site7", p.publishPrefix)
}

func TestPublishPose(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock)

	pose := Pose{
		FrameIndex: 12,
		Transform:  Mul(NewTranslation(1500, -800, 40), RotationZDeg(90)),
		Fitness:    0.92,
	}
	err := p.PublishPose("handheld1", pose)
	assert.NoError(t, err)

	msgs := mock.GetPublishedMessages()
	if !assert.Len(t, msgs, 2) {
		return
	}

	// Individual topic first, then the combined poses topic.
	assert.Equal(t, "scanreg/handheld1", msgs[0].Topic)
	assert.Equal(t, "scanreg/poses", msgs[1].Topic)
	assert.True(t, msgs[0].Retain)

	var payload PosePayload
	assert.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, "handheld1", payload.ScannerID)
	assert.Equal(t, 12, payload.FrameIndex)
	assert.InDelta(t, 1500, payload.X, 1e-9)
	assert.InDelta(t, -800, payload.Y, 1e-9)
	assert.InDelta(t, 90, payload.YawDeg, 1e-6)
	assert.InDelta(t, 0.92, payload.Fitness, 1e-9)
	assert.NotZero(t, payload.Timestamp)

	var combined struct {
		Scanners []PosePayload `json:"scanners"`
	}
	assert.NoError(t, json.Unmarshal(msgs[1].Payload, &combined))
	assert.Len(t, combined.Scanners, 1)
}

func TestPublishPose_NotConnected(t *testing.T) {
	p := NewPublisher(NewMockClient())
	err := p.PublishPose("handheld1", Pose{Transform: Identity()})
	assert.Error(t, err)

	p = NewPublisher(nil)
	err = p.PublishPose("handheld1", Pose{Transform: Identity()})
	assert.Error(t, err)
}

func TestPublishChain(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock)

	chain := PoseChain{Poses: []Pose{
		{FrameIndex: 0, Transform: Identity()},
		{FrameIndex: 2, Transform: NewTranslation(50, 0, 0)},
		{FrameIndex: 4, Transform: NewTranslation(100, 0, 0)},
	}}
	assert.NoError(t, p.PublishChain("handheld1", chain))

	// Two messages per pose.
	assert.Len(t, mock.GetPublishedMessages(), 6)

	latest, ok := p.GetLatestPose("handheld1")
	assert.True(t, ok)
	assert.Equal(t, 4, latest.FrameIndex)
}

func TestGetAllPoses_Copy(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock)

	assert.NoError(t, p.PublishPose("s1", Pose{FrameIndex: 1, Transform: Identity()}))
	assert.NoError(t, p.PublishPose("s2", Pose{FrameIndex: 2, Transform: Identity()}))

	poses := p.GetAllPoses()
	assert.Len(t, poses, 2)

	poses["s1"].FrameIndex = 99
	latest, _ := p.GetLatestPose("s1")
	assert.Equal(t, 1, latest.FrameIndex, "GetAllPoses must return copies")

	p.ClearPose("s1")
	_, ok := p.GetLatestPose("s1")
	assert.False(t, ok)
	assert.Len(t, p.GetAllPoses(), 1)
}

func TestSetQoS(t *testing.T) {
	p := NewPublisher(nil)
	p.SetQoS(2)
	assert.Equal(t, byte(2), p.qos)
	p.SetQoS(7)
	assert.Equal(t, byte(2), p.qos, "invalid QoS must be ignored")
	p.SetRetain(false)
	assert.False(t, p.retain)
}
