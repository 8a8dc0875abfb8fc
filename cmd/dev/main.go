package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/couchbaselabs/gomsgbus/cluster"
	"github.com/couchbaselabs/gomsgbus/contrib/buildversion"
	"github.com/couchbaselabs/gomsgbus/daemon"
	"github.com/couchbaselabs/gomsgbus/transport"
	"go.uber.org/zap"
)

var numInstances = flag.Uint("num-instances", 3, "how many instances to run")
var noDefaultPorts = flag.Bool("no-default-ports", false, "whether to avoid using default ports")
var basePort = flag.Int("base-port", 18100, "the first delivery port to bind")
var chatInterval = flag.Duration("chat-interval", 5*time.Second, "how often to broadcast a test message")

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Printf("failed to initialize logging: %s", err)
		os.Exit(1)
	}

	buildVersion := buildversion.GetVersion("github.com/couchbaselabs/gomsgbus")
	logger.Info("starting msgbus dev cluster", zap.String("version", buildVersion))

	// All the instances share one in-process member list, so a multi-node
	// cluster can be tried out without running etcd.
	provider := cluster.NewInProcProvider()

	// In order to know when the nodes are reachable, we use a channel and
	// a hook in the daemon to collect their advertised addresses.
	nodeAddrCh := make(chan string, 100)

	wg := sync.WaitGroup{}

	daemons := make([]*daemon.Daemon, 0, *numInstances)
	for i := uint(0); i < *numInstances; i++ {
		nodeLogger := logger.Named(fmt.Sprintf("node%d", i+1))

		deliveryPort := 0
		if !*noDefaultPorts {
			deliveryPort = *basePort + int(i)
		}

		d, err := daemon.NewDaemon(&daemon.Config{
			Logger:           nodeLogger,
			NodeID:           uint64(i + 1),
			ServerGroup:      "dev",
			Provider:         provider,
			BindAddress:      "127.0.0.1",
			BindDeliveryPort: deliveryPort,
			Handler: transport.HandlerFunc(func(ctx context.Context, msg *transport.Message) error {
				nodeLogger.Info("received a message",
					zap.String("kind", msg.Kind),
					zap.ByteString("body", msg.Body))
				return nil
			}),

			StartupCallback: func(m *daemon.StartupInfo) {
				nodeAddrCh <- fmt.Sprintf("%s:%d", m.AdvertiseAddr, m.AdvertisePort)
			},
		})
		if err != nil {
			log.Printf("failed to initialize a node: %s", err)
			os.Exit(1)
		}

		daemons = append(daemons, d)

		wg.Add(1)
		go func() {
			err := d.Run(context.Background())
			if err != nil {
				log.Printf("failed to run a node: %s", err)
				os.Exit(1)
			}

			wg.Done()
		}()
	}

	for i := uint(0); i < *numInstances; i++ {
		nodeAddr := <-nodeAddrCh
		logger.Info("dev setup got a node address", zap.String("addr", nodeAddr))
	}

	c, err := daemons[0].NewClient()
	if err != nil {
		log.Printf("failed to create a dev client: %s", err)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(*chatInterval)
		defer ticker.Stop()

		seq := 0
		for range ticker.C {
			seq++
			msg := transport.NewMessage("msgbus.dev.chat", []byte(fmt.Sprintf("hello %d", seq)))

			group, err := c.Broadcast(context.Background(), msg)
			if err != nil {
				logger.Warn("failed to broadcast a dev message", zap.Error(err))
				continue
			}

			err = group.Wait(context.Background())
			if err != nil {
				logger.Warn("a dev broadcast was not fully acknowledged", zap.Error(err))
				continue
			}

			logger.Info("a dev broadcast was acknowledged by the cluster",
				zap.Int("numNodes", group.Len()))
		}
	}()

	wg.Wait()
}
