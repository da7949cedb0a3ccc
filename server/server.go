package server

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/hftsim/matchbox/config"
	"github.com/hftsim/matchbox/matching"
	"github.com/hftsim/matchbox/session"
	"github.com/hftsim/matchbox/types"
)

// Server exposes the engine over HTTP: order entry, cancels, depth and
// position inspection. Sessions gate order flow.
type Server struct {
	engine   *matching.Engine
	sessions *session.Manager
}

// New returns a server around an engine and session manager.
func New(engine *matching.Engine, sessions *session.Manager) *Server {
	return &Server{engine: engine, sessions: sessions}
}

// SetupRouter builds the fiber app with all routes attached.
func (s *Server) SetupRouter() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Post("/orders", s.CreateOrder)
	app.Delete("/orders/:id", s.CancelOrder)
	app.Get("/orders/:id", s.GetOrder)
	app.Get("/depth", s.GetDepth)
	app.Get("/positions/:owner", s.GetPosition)
	app.Get("/stats", s.GetStats)

	app.Post("/users", s.CreateUser)
	app.Post("/sessions", s.CreateSession)
	app.Post("/sessions/:id/login", s.Login)
	app.Post("/sessions/:id/heartbeat", s.Heartbeat)
	app.Delete("/sessions/:id", s.CloseSession)

	return app
}

type orderPayload struct {
	ID          uint64 `json:"id"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Price       int64  `json:"price"`
	StopPrice   int64  `json:"stop_price"`
	Quantity    int64  `json:"quantity"`
	DisplaySize int64  `json:"display_size"`
	OwnerID     uint32 `json:"owner_id"`
	SessionID   uint32 `json:"session_id"`
}

// CreateOrder admits one order after the session gate. The response
// carries any trades the order produced.
func (s *Server) CreateOrder(c *fiber.Ctx) error {
	var payload orderPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if payload.Quantity <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "quantity must be positive"})
	}

	sess := s.sessions.Get(payload.SessionID)
	if sess == nil || !sess.CanPlaceOrders() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "session not authorized"})
	}
	if sess.IsRateLimited() {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "session rate limited"})
	}

	before := s.engine.Stats()
	trades := s.engine.AddOrder(types.OrderRequest{
		ID:            payload.ID,
		Side:          types.ParseSide(payload.Side),
		Type:          types.ParseOrderType(payload.Type),
		Price:         payload.Price,
		StopPrice:     payload.StopPrice,
		Quantity:      payload.Quantity,
		DisplaySize:   payload.DisplaySize,
		OwnerID:       payload.OwnerID,
		SessionID:     payload.SessionID,
		IsMarketMaker: sess.IsMarketMaker(),
	})
	after := s.engine.Stats()

	// a rejected submission produces no trades; rejected counter moves
	// with trades present only when a cascaded stop was refused
	if len(trades) == 0 && after.TotalRiskRejected > before.TotalRiskRejected {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "order rejected by risk checks"})
	}

	sess.RecordOrderPlaced()
	if trades == nil {
		trades = []types.Trade{}
	}
	return c.JSON(fiber.Map{"order_id": payload.ID, "trades": trades})
}

// CancelOrder removes a live order by id.
func (s *Server) CancelOrder(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	sessionID, _ := strconv.ParseUint(c.Query("session_id"), 10, 32)
	sess := s.sessions.Get(uint32(sessionID))
	if sess == nil || !sess.CanPlaceOrders() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "session not authorized"})
	}

	if !s.engine.CancelOrder(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	}
	sess.RecordCancellation()
	return c.JSON(fiber.Map{"cancelled": id})
}

// GetOrder returns a live order by id.
func (s *Server) GetOrder(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}
	order, ok := s.engine.GetOrder(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	}
	return c.JSON(order)
}

// GetDepth returns aggregated book depth for both sides.
func (s *Server) GetDepth(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "25"))
	return c.JSON(fiber.Map{
		"symbol": s.engine.Symbol,
		"bids":   s.engine.Depth(types.SideBuy, limit),
		"asks":   s.engine.Depth(types.SideSell, limit),
	})
}

// GetPosition returns one trader's position.
func (s *Server) GetPosition(c *fiber.Ctx) error {
	owner, err := strconv.ParseUint(c.Params("owner"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid owner id"})
	}
	return c.JSON(s.engine.Risk().GetPosition(uint32(owner)))
}

// GetStats returns engine counters and book shape.
func (s *Server) GetStats(c *fiber.Ctx) error {
	allocated, capacity := s.engine.PoolStats()
	return c.JSON(fiber.Map{
		"stats":           s.engine.Stats(),
		"best_bid":        s.engine.BestBid(),
		"best_ask":        s.engine.BestAsk(),
		"bid_levels":      s.engine.BidLevels(),
		"ask_levels":      s.engine.AskLevels(),
		"open_orders":     s.engine.OrderCount(),
		"pending_stops":   s.engine.PendingStops(),
		"pool_allocated":  allocated,
		"pool_capacity":   capacity,
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type sessionPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientIP string `json:"client_ip"`
}

type userPayload struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Email         string `json:"email"`
	IsMarketMaker bool   `json:"is_market_maker"`
	IsAdmin       bool   `json:"is_admin"`
}

// CreateUser registers a user account.
func (s *Server) CreateUser(c *fiber.Ctx) error {
	var payload userPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if payload.Username == "" || payload.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "username and password required"})
	}
	if !s.sessions.CreateUser(payload.Username, payload.Password, payload.IsMarketMaker, payload.IsAdmin, payload.Email) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "username taken"})
	}
	return c.JSON(fiber.Map{"created": payload.Username})
}

// CreateSession opens a session for a username.
func (s *Server) CreateSession(c *fiber.Ctx) error {
	var payload sessionPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	ip := payload.ClientIP
	if ip == "" {
		ip = c.IP()
	}

	id := s.sessions.CreateSession(payload.Username, ip)
	if id == 0 {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "session refused"})
	}
	sess := s.sessions.Get(id)
	return c.JSON(fiber.Map{"session_id": id, "token": sess.Token})
}

// Login authenticates an open session.
func (s *Server) Login(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid session id"})
	}
	var payload sessionPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	if !s.sessions.AuthenticateSession(uint32(id), payload.Password) {
		config.Logger.Debugf("[server] failed login for session %d", id)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication failed"})
	}
	return c.JSON(fiber.Map{"authenticated": true})
}

// Heartbeat refreshes a session's liveness window.
func (s *Server) Heartbeat(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid session id"})
	}
	sess := s.sessions.Get(uint32(id))
	if sess == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	sess.Heartbeat()
	return c.JSON(fiber.Map{"ok": true})
}

// CloseSession removes a session.
func (s *Server) CloseSession(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid session id"})
	}
	if !s.sessions.Remove(uint32(id)) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	return c.JSON(fiber.Map{"closed": id})
}
