package httpapi

import (
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/service"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        logger.Named("http"),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

// clientKey uses the socket address only; forwarded headers are not trusted.
func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(a.recovery(), a.securityHeaders(), a.requestLog())

	r.GET("/healthz", a.handleHealth)
	r.POST("/register", a.handleRegister)
	r.POST("/login", a.handleLogin)
	r.POST("/recover-password", a.handleRecoverPassword)

	authed := r.Group("/", a.requireAuth())
	authed.GET("/profile", a.handleProfile)
	authed.PATCH("/profile", a.handleUpdateProfile)
	authed.PATCH("/change-password", a.handleChangePassword)

	authed.GET("/users", a.handleListUsers)
	authed.GET("/users/:id", a.handleGetUser)

	authed.GET("/customers", a.handleListCustomers)
	authed.GET("/customers/:id", a.handleGetCustomer)
	authed.POST("/customers", a.handleCreateCustomer)
	authed.PUT("/customers/:id", a.handleUpdateCustomer)

	authed.GET("/products", a.handleListProducts)
	authed.GET("/products/:id", a.handleGetProduct)

	authed.GET("/sales", a.handleListSales)
	authed.GET("/sales/:id", a.handleGetSale)
	authed.POST("/sales", a.handleCreateSale)
	authed.PUT("/sales/:id", a.handleUpdateSale)

	authed.GET("/reports/sales", a.handleSalesReport)
	authed.GET("/reports/products", a.handleProductsReport)
	authed.GET("/reports/commissions", a.handleCommissionsReport)

	admin := r.Group("/", a.requireAuth(domain.RoleAdmin, domain.RoleSuper))
	admin.POST("/users", a.handleCreateUser)
	admin.PUT("/users/:id", a.handleUpdateUser)
	admin.DELETE("/users/:id", a.handleDeleteUser)
	admin.DELETE("/customers/:id", a.handleDeleteCustomer)
	admin.POST("/products", a.handleCreateProduct)
	admin.PUT("/products/:id", a.handleUpdateProduct)
	admin.DELETE("/products/:id", a.handleDeleteProduct)
	admin.DELETE("/sales/:id", a.handleCancelSale)

	admin.GET("/dashboard/sales-current-month", a.handleSalesCurrentMonth)
	admin.GET("/dashboard/total-sales-month", a.handleTotalSalesMonth)
	admin.GET("/dashboard/last-sales", a.handleLastSales)
	admin.GET("/dashboard/sales-by-month", a.handleSalesByMonth)
	admin.GET("/dashboard/sales-by-seller", a.handleSalesBySeller)

	return r
}

func (a *API) requireAuth(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeStatus(c, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeStatus(c, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeStatus(c, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleRegister(c *gin.Context) {
	var req domain.RegisterRequest
	if !a.bind(c, &req) {
		return
	}
	user, err := a.auth.Register(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (a *API) handleLogin(c *gin.Context) {
	if !a.loginLimiter.Allow(clientKey(c.Request)) {
		a.writeStatus(c, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.auth.Login(c.Request.Context(), req)
	if errors.Is(err, ErrInvalidCredentials) {
		a.writeStatus(c, http.StatusUnauthorized, err)
		return
	}
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) handleRecoverPassword(c *gin.Context) {
	if !a.loginLimiter.Allow(clientKey(c.Request)) {
		a.writeStatus(c, http.StatusTooManyRequests, errors.New("too many attempts"))
		return
	}
	var req domain.RecoverPasswordRequest
	if !a.bind(c, &req) {
		return
	}
	msg, err := a.service.RecoverPassword(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (a *API) handleProfile(c *gin.Context) {
	user, err := a.service.Profile(c.Request.Context())
	a.respond(c, http.StatusOK, user, err)
}

func (a *API) handleUpdateProfile(c *gin.Context) {
	var req domain.ProfileUpdateRequest
	if !a.bind(c, &req) {
		return
	}
	user, err := a.service.UpdateProfile(c.Request.Context(), req)
	a.respond(c, http.StatusOK, user, err)
}

func (a *API) handleChangePassword(c *gin.Context) {
	var req domain.ChangePasswordRequest
	if !a.bind(c, &req) {
		return
	}
	if err := a.auth.ChangePassword(c.Request.Context(), req); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

func (a *API) handleListUsers(c *gin.Context) {
	users, err := a.service.ListUsers(c.Request.Context())
	a.respond(c, http.StatusOK, users, err)
}

func (a *API) handleGetUser(c *gin.Context) {
	user, err := a.service.GetUser(c.Request.Context(), c.Param("id"))
	a.respond(c, http.StatusOK, user, err)
}

func (a *API) handleCreateUser(c *gin.Context) {
	var req domain.UserCreateRequest
	if !a.bind(c, &req) {
		return
	}
	user, err := a.auth.CreateUser(c.Request.Context(), req)
	a.respond(c, http.StatusCreated, user, err)
}

func (a *API) handleUpdateUser(c *gin.Context) {
	var req domain.UserUpdateRequest
	if !a.bind(c, &req) {
		return
	}
	user, err := a.service.UpdateUser(c.Request.Context(), c.Param("id"), req)
	a.respond(c, http.StatusOK, user, err)
}

func (a *API) handleDeleteUser(c *gin.Context) {
	if err := a.service.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleListCustomers(c *gin.Context) {
	customers, err := a.service.ListCustomers(c.Request.Context())
	a.respond(c, http.StatusOK, customers, err)
}

func (a *API) handleGetCustomer(c *gin.Context) {
	customer, err := a.service.GetCustomer(c.Request.Context(), c.Param("id"))
	a.respond(c, http.StatusOK, customer, err)
}

func (a *API) handleCreateCustomer(c *gin.Context) {
	var req domain.CustomerRequest
	if !a.bind(c, &req) {
		return
	}
	customer, err := a.service.CreateCustomer(c.Request.Context(), req)
	a.respond(c, http.StatusCreated, customer, err)
}

func (a *API) handleUpdateCustomer(c *gin.Context) {
	var req domain.CustomerRequest
	if !a.bind(c, &req) {
		return
	}
	customer, err := a.service.UpdateCustomer(c.Request.Context(), c.Param("id"), req)
	a.respond(c, http.StatusOK, customer, err)
}

func (a *API) handleDeleteCustomer(c *gin.Context) {
	if err := a.service.DeleteCustomer(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleListProducts(c *gin.Context) {
	products, err := a.service.ListProducts(c.Request.Context())
	a.respond(c, http.StatusOK, products, err)
}

func (a *API) handleGetProduct(c *gin.Context) {
	product, err := a.service.GetProduct(c.Request.Context(), c.Param("id"))
	a.respond(c, http.StatusOK, product, err)
}

func (a *API) handleCreateProduct(c *gin.Context) {
	var req domain.ProductRequest
	if !a.bind(c, &req) {
		return
	}
	product, err := a.service.CreateProduct(c.Request.Context(), req)
	a.respond(c, http.StatusCreated, product, err)
}

func (a *API) handleUpdateProduct(c *gin.Context) {
	var req domain.ProductRequest
	if !a.bind(c, &req) {
		return
	}
	product, err := a.service.UpdateProduct(c.Request.Context(), c.Param("id"), req)
	a.respond(c, http.StatusOK, product, err)
}

func (a *API) handleDeleteProduct(c *gin.Context) {
	if err := a.service.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleListSales(c *gin.Context) {
	from, to, err := a.service.ParseReportRange(c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	limit, err := parseLimit(c.Query("limit"), 500)
	if err != nil {
		a.writeError(c, err)
		return
	}
	sales, err := a.service.ListSales(c.Request.Context(), domain.SaleQuery{
		From:       from,
		To:         to,
		UserID:     c.Query("userId"),
		CustomerID: c.Query("customerId"),
		Status:     strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Limit:      limit,
	})
	a.respond(c, http.StatusOK, sales, err)
}

func (a *API) handleGetSale(c *gin.Context) {
	sale, err := a.service.GetSale(c.Request.Context(), c.Param("id"))
	a.respond(c, http.StatusOK, sale, err)
}

func (a *API) handleCreateSale(c *gin.Context) {
	var req domain.SaleRequest
	if !a.bind(c, &req) {
		return
	}
	sale, err := a.service.CreateSale(c.Request.Context(), req)
	a.respond(c, http.StatusCreated, sale, err)
}

func (a *API) handleUpdateSale(c *gin.Context) {
	var req domain.SaleRequest
	if !a.bind(c, &req) {
		return
	}
	sale, err := a.service.UpdateSale(c.Request.Context(), c.Param("id"), req)
	a.respond(c, http.StatusOK, sale, err)
}

func (a *API) handleCancelSale(c *gin.Context) {
	resp, err := a.service.CancelSale(c.Request.Context(), c.Param("id"))
	a.respond(c, http.StatusOK, resp, err)
}

func (a *API) reportFilter(c *gin.Context) (domain.ReportFilter, bool) {
	from, to, err := a.service.ParseReportRange(c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		a.writeError(c, err)
		return domain.ReportFilter{}, false
	}
	userIDs := make([]string, 0, 2)
	for _, id := range c.QueryArray("userId") {
		if id = strings.TrimSpace(id); id != "" {
			userIDs = append(userIDs, id)
		}
	}
	return domain.ReportFilter{
		From:       from,
		To:         to,
		UserIDs:    userIDs,
		CustomerID: strings.TrimSpace(c.Query("customerId")),
		ProductID:  strings.TrimSpace(c.Query("productId")),
	}, true
}

func (a *API) handleSalesReport(c *gin.Context) {
	filter, ok := a.reportFilter(c)
	if !ok {
		return
	}
	rows, err := a.service.SalesReport(c.Request.Context(), filter)
	a.respond(c, http.StatusOK, rows, err)
}

func (a *API) handleProductsReport(c *gin.Context) {
	filter, ok := a.reportFilter(c)
	if !ok {
		return
	}
	rows, err := a.service.ProductsReport(c.Request.Context(), filter)
	a.respond(c, http.StatusOK, rows, err)
}

func (a *API) handleCommissionsReport(c *gin.Context) {
	filter, ok := a.reportFilter(c)
	if !ok {
		return
	}
	rows, err := a.service.CommissionsReport(c.Request.Context(), filter)
	a.respond(c, http.StatusOK, rows, err)
}

func (a *API) handleSalesCurrentMonth(c *gin.Context) {
	days, err := a.service.SalesCurrentMonth(c.Request.Context())
	a.respond(c, http.StatusOK, days, err)
}

func (a *API) handleTotalSalesMonth(c *gin.Context) {
	totals, err := a.service.TotalSalesMonth(c.Request.Context())
	a.respond(c, http.StatusOK, totals, err)
}

func (a *API) handleLastSales(c *gin.Context) {
	sales, err := a.service.LastSales(c.Request.Context())
	a.respond(c, http.StatusOK, sales, err)
}

func (a *API) handleSalesByMonth(c *gin.Context) {
	months, err := a.service.SalesByMonth(c.Request.Context())
	a.respond(c, http.StatusOK, months, err)
}

func (a *API) handleSalesBySeller(c *gin.Context) {
	sellers, err := a.service.SalesBySeller(c.Request.Context())
	a.respond(c, http.StatusOK, sellers, err)
}

func (a *API) securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		h.Set("Vary", "Origin")

		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (a *API) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		a.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(startedAt)),
		)
	}
}

func (a *API) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		a.logger.Error("panic serving request",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// bind decodes a JSON body and writes a 400 on failure.
func (a *API) bind(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		a.writeStatus(c, http.StatusBadRequest, errors.New("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (a *API) respond(c *gin.Context, status int, payload any, err error) {
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(status, payload)
}

func parseLimit(raw string, max int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(trimmed)
	if err != nil || limit < 1 {
		return 0, domain.FieldErrors(map[string]string{"limit": "must be a positive integer"})
	}
	if max > 0 && limit > max {
		return max, nil
	}
	return limit, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAllocation):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if domain.IsRetryable(err) {
		c.Header("Retry-After", "1")
	}
	a.writeStatus(c, status, err)
}

func (a *API) writeStatus(c *gin.Context, status int, err error) {
	// 5xx bodies never carry internal detail.
	if status >= 500 {
		a.logger.Error("request failed",
			zap.Int("status", status),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		msg := "internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "service temporarily unavailable, retry later"
		}
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}

	body := gin.H{"error": err.Error()}
	if details := domain.Details(err); len(details) > 0 {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}
