package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"anchor-backend/internal/auth"
	"anchor-backend/internal/config"
	"anchor-backend/internal/instrument"
	"anchor-backend/internal/metadata"
	"anchor-backend/internal/server"
	"anchor-backend/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Seed the admin account
	if err := auth.EnsureUser(ctx, db, "admin", "admin", []string{"admin"}); err != nil {
		log.Fatalf("Failed to seed admin user: %v", err)
	}

	// 5. Register entity definitions and migrate their tables
	reg := metadata.NewRegistry()
	if err := registerEntities(reg); err != nil {
		log.Fatalf("Failed to register entities: %v", err)
	}
	migrator := store.NewMigrator(db)
	if err := migrator.MigrateAll(ctx, reg); err != nil {
		log.Fatalf("Failed to migrate entity tables: %v", err)
	}
	log.Printf("Entity tables ready (%d entities)", len(reg.AllEntities()))

	// 6. Instrumentation
	var instr instrument.Instrumenter = &instrument.NoopInstrumenter{}
	if cfg.Instrumentation.Enabled {
		buffer := instrument.NewEventBuffer(db.DB, db.Dialect.Placeholder,
			cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushIntervalMs)
		defer buffer.Close()
		if cfg.Instrumentation.RetentionDays > 0 {
			if err := buffer.Prune(ctx, cfg.Instrumentation.RetentionDays); err != nil {
				log.Printf("WARN: Failed to prune instrumentation events: %v", err)
			}
		}
		instr = instrument.NewInstrumenter(buffer)
	}

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: server.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 8. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 9. Auth routes (before middleware, no auth required)
	authHandler := auth.NewHandler(db, cfg.JWTSecret)
	auth.RegisterRoutes(app, authHandler)

	// 10. Aggregate document routes (auth required)
	authMW := auth.Middleware(cfg.JWTSecret)
	portal := store.NewPortal(db, reg)
	handler := server.NewHandler(db, portal, reg, instr, cfg.Engine.RuleTimeoutMs)
	server.RegisterRoutes(app, handler, authMW)

	// 11. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Server listening on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// registerEntities declares the built-in aggregates. An order owns its lines;
// removing a line from a loaded order parks it for deletion until the next
// save.
func registerEntities(reg *metadata.Registry) error {
	defs := []*metadata.EntityDef{
		{
			Name:       "customer",
			Table:      "customers",
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "uuid", ReadOnly: true},
				{Name: "name", Type: "string", Required: true},
				{Name: "email", Type: "string", Required: true},
				{Name: "credit_limit", Type: "number", Default: 0},
			},
			Rules: []metadata.RuleDef{
				{Type: "field", Field: "email", Operator: "pattern",
					Value:   `^[^@\s]+@[^@\s]+$`,
					Message: "Email must be a valid address"},
				{Type: "field", Field: "credit_limit", Operator: "min", Value: 0,
					Message: "Credit limit cannot be negative"},
			},
		},
		{
			Name:       "order",
			Table:      "orders",
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "uuid", ReadOnly: true},
				{Name: "customer_id", Type: "uuid", Required: true},
				{Name: "status", Type: "string", Default: "draft",
					Enum: []string{"draft", "submitted", "shipped", "cancelled"}},
				{Name: "notes", Type: "string", Nullable: true},
			},
			Children: []metadata.ChildDef{
				{Name: "lines", Entity: "order_line", ForeignKey: "order_id"},
			},
		},
		{
			Name:       "order_line",
			Table:      "order_lines",
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "uuid", ReadOnly: true},
				{Name: "order_id", Type: "uuid", Nullable: true},
				{Name: "product", Type: "string", Required: true},
				{Name: "quantity", Type: "number", Required: true},
				{Name: "unit_price", Type: "number", Required: true},
			},
			Rules: []metadata.RuleDef{
				{Type: "field", Field: "quantity", Operator: "min", Value: 1,
					Message: "Quantity must be at least 1"},
				{Type: "field", Field: "unit_price", Operator: "min", Value: 0,
					Message: "Unit price cannot be negative"},
				{Type: "expression",
					Expression: `record.quantity != nil && record.unit_price != nil && record.quantity * record.unit_price > 100000`,
					Triggers:   []string{"quantity", "unit_price"},
					Message:    "Line total exceeds the allowed maximum"},
			},
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
