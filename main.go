package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/chat-relay/modules/api"
	"github.com/example/chat-relay/modules/broadcast"
	"github.com/example/chat-relay/modules/relay"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== chat-relay ===")

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	relayModule := relay.NewModule()
	broadcastModule := broadcast.NewModule()
	apiModule := api.NewModule(relayModule)

	// Inject broadcast hub into API module
	// (The hub is not exposed via ServiceContainer)
	apiModule.SetHub(broadcastModule.GetHub())

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - relay: directory core (ServiceProviderModule + EventEmitterModule)
	// - broadcast: delivery fan-out (EventConsumerModule + WebSocket hub)
	// - api: driving adapter (Fiber HTTP/WebSocket server, depends on relay)
	app.Register(relayModule)
	app.Register(broadcastModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo()

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("  - Delivery: relay events -> broadcast module -> WebSocket clients")
	log.Println("  - Directory: single serializing loop, no locks")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                       - Health check")
	log.Println("  GET    /api/v1/presence              - Current presence list")
	log.Println("  GET    /api/v1/rooms                 - Active rooms")
	log.Println("  GET    /api/v1/rooms/:name/members   - Members of a room")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Println("  Inbound:  register, sendBroadcast, sendPrivate, sendRoom,")
	log.Println("            joinRoom, leaveRoom, queryRoomMembers, typing")
	log.Println("  Outbound: identityAssigned, presenceList, chatMessage,")
	log.Println("            roomMembers, typingStatus, error")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
