package artnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"blaulicht/internal/config"
	"blaulicht/internal/logger"
	"github.com/Haba1234/go-artnet"
)

const nodesInterval = 30 * time.Second

// Universe wraps the 512 byte array for convenience.
type Universe = [512]byte

// ArtNet is transport for the ArtNet protocol (DMX over UDP/IP). It is an
// output.Sink: frames are handed to a background sender.
type ArtNet struct {
	logger      *logger.Log
	sender      *artnet.Controller
	address     artnet.Address
	sendTrigger chan Universe
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewController returns an art-net sink bound to the interface inside cfg.AddressRange.
func NewController(log logger.Logger, cfg config.ArtNetConf) (*ArtNet, error) {
	ip, err := FindArtNetIP(cfg.AddressRange)
	if err != nil {
		return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
	}

	if len(ip) == 0 {
		return nil, errors.New("failed to find the art-net IP: No interface found")
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}

	host = strings.ToLower(strings.Split(host, ".")[0])
	l := log.With(logger.Fields{"module": "art-net"})
	l.Infof("Using ArtNet IP %s and hostname %s, universe %d", ip.String(), host, cfg.Universe)

	senderLogger := artnet.NewDefaultLogger("info")

	return &ArtNet{
		logger:      l,
		sender:      artnet.NewController(host, ip, senderLogger, artnet.MaxFPS(cfg.MaxFPS)),
		address:     universeToAddress(cfg.Universe),
		sendTrigger: make(chan Universe, 1),
	}, nil
}

// Start the ArtNet.
func (c *ArtNet) Start(ctx context.Context) error {
	if err := c.sender.Start(); err != nil {
		return fmt.Errorf("failed to start Controller: %w", err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.sendBackground(ctx)
	go c.debugDevices(ctx)
	return nil
}

// Write queues the channels of frame (start code dropped). Only the newest
// frame is kept when the sender falls behind.
func (c *ArtNet) Write(frame []byte) error {
	if len(frame) < 1 {
		return nil
	}
	var u Universe
	copy(u[:], frame[1:])
	for {
		select {
		case c.sendTrigger <- u:
			return nil
		default:
		}
		select {
		case <-c.sendTrigger:
		default:
		}
	}
}

// Close stops the ArtNet.
func (c *ArtNet) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.sender.Stop()
	return nil
}

func (c *ArtNet) sendBackground(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case dmx := <-c.sendTrigger:
			c.sender.SendDMXToAddress(dmx, c.address)
		}
	}
}

// universeToAddress converts a dmx universe to art-net address
// universe: старший байт - Net, младший байт - SubUni.
func universeToAddress(universe uint16) artnet.Address {
	v := make([]uint8, 2)
	binary.BigEndian.PutUint16(v, universe)

	return artnet.Address{
		Net:    v[0],
		SubUni: v[1],
	}
}

// NodeToString returns a string representation of the given Node.
func NodeToString(n *artnet.ControlledNode) string {
	var inputs, outputs []string
	for _, p := range n.Node.InputPorts {
		inputs = append(inputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}
	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	return fmt.Sprintf(
		"IP=%s name=%q type=%q manufacturer=%q desc=%q inputs=%q outputs=%q",
		n.UDPAddress.String(), n.Node.Name, n.Node.Type,
		n.Node.Manufacturer, n.Node.Description,
		strings.Join(inputs, "; "), strings.Join(outputs, "; "),
	)
}

func (c *ArtNet) debugDevices(ctx context.Context) {
	t := time.NewTicker(nodesInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		nodes := c.sender.Nodes // Видимые узлы.
		c.logger.Debugf("Currently %d devices are registered", len(nodes))
		for _, n := range nodes {
			c.logger.Debug(NodeToString(n))
		}
	}
}
