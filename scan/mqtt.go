package scan

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FrameHandler is called when a frame message is received.
// Parameters: scannerID, rawPayload, frame, error. rawPayload is provided
// so callers can archive payloads that failed to decode.
type FrameHandler func(scannerID string, rawPayload []byte, frame *Frame, err error)

// CaptureDoneHandler is called when a scanner signals the end of a
// capture session on its status topic.
type CaptureDoneHandler func(scannerID string)

// MQTTClient manages the MQTT connection and subscriptions for live
// frame capture
type MQTTClient struct {
	client       mqtt.Client
	config       *Config
	frameHandler FrameHandler
	doneHandler  CaptureDoneHandler
	isConnected  bool
	mu           sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided
// configuration. If MQTT_BROKER env var and config broker are both
// empty, MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handler FrameHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Scanners) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no scanner configuration provided")
	}

	client := &MQTTClient{
		config:       config,
		frameHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "scanreg"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // Preserve subscriptions on reconnect
	opts.SetOrderMatters(true)  // Frames must arrive in capture order

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the MQTT broker with
// exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to every configured scanner topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to scanner topics...")
	c.setConnected(true)

	for _, scanner := range c.config.Scanners {
		if scanner.Topic == "" {
			log.Printf("Warning: scanner %s has no topic configured", scanner.ID)
			continue
		}

		log.Printf("Subscribing to %s for scanner %s", scanner.Topic, scanner.ID)
		token := client.Subscribe(scanner.Topic, 1, c.createFrameHandler(scanner.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", scanner.Topic, token.Error())
		}

		if statusTopic, ok := deriveStatusTopic(scanner.Topic); ok {
			log.Printf("Subscribing to %s for scanner %s status", statusTopic, scanner.ID)
			statusToken := client.Subscribe(statusTopic, 1, c.createStatusHandler(scanner.ID))
			if statusToken.WaitTimeout(5*time.Second) && statusToken.Error() != nil {
				log.Printf("Error subscribing to %s: %v", statusTopic, statusToken.Error())
			}
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createFrameHandler creates a handler for a specific scanner's frame
// topic
func (c *MQTTClient) createFrameHandler(scannerID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received frame for %s (topic: %s, size: %d bytes)",
			scannerID, msg.Topic(), len(payload))

		frame, err := ParseFrameJSON(payload)
		if err != nil {
			log.Printf("Error decoding frame for %s: %v", scannerID, err)
			if c.frameHandler != nil {
				c.frameHandler(scannerID, payload, nil, err)
			}
			return
		}
		frame.DeviceID = scannerID

		if c.frameHandler != nil {
			c.frameHandler(scannerID, payload, frame, nil)
		}
	}
}

// SetCaptureDoneHandler registers a callback invoked when a scanner
// finishes a capture session
func (c *MQTTClient) SetCaptureDoneHandler(handler CaptureDoneHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doneHandler = handler
}

func (c *MQTTClient) getCaptureDoneHandler() CaptureDoneHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doneHandler
}

// deriveStatusTopic converts a frame topic to its status topic.
// Example: "scanner/handheld1/frames" -> "scanner/handheld1/status"
func deriveStatusTopic(frameTopic string) (string, bool) {
	parts := strings.Split(frameTopic, "/")
	if len(parts) < 3 {
		return "", false
	}
	parts[len(parts)-1] = "status"
	return strings.Join(parts, "/"), true
}

// createStatusHandler creates a handler for status topic messages that
// detects capture completion
func (c *MQTTClient) createStatusHandler(scannerID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		status := strings.TrimSpace(string(msg.Payload()))
		if status == "" {
			return
		}
		log.Printf("Scanner %s status: %s", scannerID, status)

		if status == "done" {
			handler := c.getCaptureDoneHandler()
			if handler != nil {
				handler(scannerID)
			}
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetScannerByTopic returns the scanner ID for a given topic
func (c *MQTTClient) GetScannerByTopic(topic string) (string, bool) {
	for _, scanner := range c.config.Scanners {
		if scanner.Topic == topic {
			return scanner.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided
// mqtt.Client, for tests
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler FrameHandler) *MQTTClient {
	return &MQTTClient{
		client:       client,
		config:       config,
		frameHandler: handler,
	}
}
