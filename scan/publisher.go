package scan

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PosePayload is the wire format for a published frame pose
type PosePayload struct {
	ScannerID  string  `json:"scanner_id"`
	FrameIndex int     `json:"frame_index"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	YawDeg     float64 `json:"yaw_deg"`
	Fitness    float64 `json:"fitness"`
	Timestamp  int64   `json:"timestamp"`
}

// Publisher manages publishing registered frame poses to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	latest        map[string]*PosePayload
	mu            sync.RWMutex
}

// NewPublisher creates a new pose publisher
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "scanreg"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0 for pose updates (fire and forget)
		retain:        true, // Retain for latest pose
		latest:        make(map[string]*PosePayload),
	}
}

// PublishPose publishes a registered frame pose for a scanner.
// Publishes to both the scanner's individual topic and the combined
// poses topic.
func (p *Publisher) PublishPose(scannerID string, pose Pose) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	t := pose.Transform.Translation()
	payload := &PosePayload{
		ScannerID:  scannerID,
		FrameIndex: pose.FrameIndex,
		X:          t.X,
		Y:          t.Y,
		Z:          t.Z,
		YawDeg:     pose.Transform.YawDeg(),
		Fitness:    pose.Fitness,
		Timestamp:  time.Now().Unix(),
	}

	// Store latest pose for combined message
	p.mu.Lock()
	p.latest[scannerID] = payload
	p.mu.Unlock()

	// Publish to individual topic: scanreg/{scannerID}
	if err := p.publishIndividual(payload); err != nil {
		log.Printf("Error publishing pose for %s: %v", scannerID, err)
		return err
	}

	// Publish to combined topic: scanreg/poses
	if err := p.publishCombined(); err != nil {
		log.Printf("Error publishing combined poses: %v", err)
		return err
	}

	return nil
}

// PublishChain publishes every pose of a completed registration chain
// for a scanner, in frame order
func (p *Publisher) PublishChain(scannerID string, chain PoseChain) error {
	for _, pose := range chain.Poses {
		if err := p.PublishPose(scannerID, pose); err != nil {
			return err
		}
	}
	return nil
}

// publishIndividual publishes a single pose to the scanner's topic
func (p *Publisher) publishIndividual(pose *PosePayload) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, pose.ScannerID)

	payload, err := json.Marshal(pose)
	if err != nil {
		return fmt.Errorf("marshaling pose: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("Published pose for %s frame %d: (%.0f, %.0f, %.0f) yaw=%.1f°",
		pose.ScannerID, pose.FrameIndex, pose.X, pose.Y, pose.Z, pose.YawDeg)
	return nil
}

// publishCombined publishes all scanners' latest poses to the combined
// topic
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	poses := make([]*PosePayload, 0, len(p.latest))
	for _, pose := range p.latest {
		poses = append(poses, pose)
	}
	p.mu.RUnlock()

	if len(poses) == 0 {
		return nil
	}

	topic := fmt.Sprintf("%s/poses", p.publishPrefix)

	message := map[string]interface{}{
		"scanners":  poses,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined poses: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// GetLatestPose returns the last published pose for a scanner
func (p *Publisher) GetLatestPose(scannerID string) (*PosePayload, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pose, ok := p.latest[scannerID]
	return pose, ok
}

// GetAllPoses returns all scanners' latest published poses
func (p *Publisher) GetAllPoses() map[string]*PosePayload {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Return a copy to avoid race conditions
	poses := make(map[string]*PosePayload, len(p.latest))
	for id, pose := range p.latest {
		poseCopy := *pose
		poses[id] = &poseCopy
	}
	return poses
}

// ClearPose removes a scanner's latest pose (e.g., when offline)
func (p *Publisher) ClearPose(scannerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.latest, scannerID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
