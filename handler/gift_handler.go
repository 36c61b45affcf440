package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gift_custody/custody"
	"github.com/gift_custody/model"
	"github.com/gift_custody/service"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CallerHeader carries the address an operation is performed as. Verifying
// it is the job of whatever sits in front of this service.
const CallerHeader = "X-Caller"

type GiftHandler struct {
	ledger  *service.GiftLedger
	owners  *service.OwnershipService
	custody *custody.Custody
	issuers service.IssuerPolicy
	log     *zap.Logger
}

func NewGiftHandler(ledger *service.GiftLedger, owners *service.OwnershipService, c *custody.Custody, issuers service.IssuerPolicy, log *zap.Logger) *GiftHandler {
	return &GiftHandler{ledger: ledger, owners: owners, custody: c, issuers: issuers, log: log}
}

type giftView struct {
	ID               uint64 `json:"id"`
	Owner            string `json:"owner"`
	Asset            string `json:"asset"`
	Symbol           string `json:"symbol,omitempty"`
	Name             string `json:"name"`
	Message          string `json:"message"`
	URL              string `json:"url"`
	Deposited        string `json:"deposited"`
	Withdrawn        string `json:"withdrawn"`
	Remaining        string `json:"remaining"`
	RemainingDisplay string `json:"remaining_display,omitempty"`
	Withdrawable     string `json:"withdrawable"`
	StartTime        uint64 `json:"start_time"`
	Duration         uint64 `json:"duration"`
	EndTime          uint64 `json:"end_time"`
}

// POST /api/gifts
func (h *GiftHandler) CreateGift(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req struct {
		Recipient string `json:"recipient" binding:"required"`
		Asset     string `json:"asset" binding:"required"`
		Amount    string `json:"amount"`
		Name      string `json:"name"`
		Message   string `json:"message"`
		URL       string `json:"url"`
		StartTime uint64 `json:"start_time"`
		Duration  uint64 `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recipient, ok := parseAddress(c, "recipient", req.Recipient)
	if !ok {
		return
	}
	asset, ok := parseAddress(c, "asset", req.Asset)
	if !ok {
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}

	id, err := h.ledger.Create(c, caller, service.CreateRequest{
		Recipient: recipient,
		Asset:     asset,
		Amount:    amount,
		Name:      req.Name,
		Message:   req.Message,
		URL:       req.URL,
		StartTime: req.StartTime,
		Duration:  req.Duration,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// GET /api/gifts?owner=&page=&size=
func (h *GiftHandler) ListGifts(c *gin.Context) {
	owner, ok := parseAddress(c, "owner", c.Query("owner"))
	if !ok {
		return
	}
	page, size := 1, 20
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("size")); err == nil && v > 0 && v <= 200 {
		size = v
	}

	ids, total, err := h.owners.ListOwned(c, owner, page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	gifts, err := h.ledger.GetMany(c, ids)
	if err != nil {
		h.writeError(c, err)
		return
	}
	records := make([]giftView, 0, len(gifts))
	for _, g := range gifts {
		v, err := h.view(c, g, owner)
		if err != nil {
			h.writeError(c, err)
			return
		}
		records = append(records, v)
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "page": page, "size": size, "records": records})
}

// GET /api/gifts/:id
func (h *GiftHandler) GetGift(c *gin.Context) {
	id, ok := giftID(c)
	if !ok {
		return
	}
	g, err := h.ledger.Get(c, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	owner, err := h.owners.OwnerOf(c, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	v, err := h.view(c, g, owner)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GET /api/gifts/:id/events
func (h *GiftHandler) GetEvents(c *gin.Context) {
	id, ok := giftID(c)
	if !ok {
		return
	}
	evs, err := h.ledger.Events(c, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": evs})
}

// POST /api/gifts/:id/tip
func (h *GiftHandler) Tip(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	id, ok := giftID(c)
	if !ok {
		return
	}
	var req struct {
		Amount  string `json:"amount"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	if err := h.ledger.Augment(c, caller, id, amount, req.Message); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "amount": amount.Dec()})
}

// POST /api/gifts/:id/collect
func (h *GiftHandler) Collect(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	id, ok := giftID(c)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	moved, err := h.ledger.Withdraw(c, caller, id, amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "amount": moved.Dec()})
}

// POST /api/gifts/:id/transfer
func (h *GiftHandler) TransferGift(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	id, ok := giftID(c)
	if !ok {
		return
	}
	var req struct {
		To string `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, ok := parseAddress(c, "to", req.To)
	if !ok {
		return
	}
	if err := h.owners.Transfer(c, caller, id, to); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "owner": to.Hex()})
}

// POST /api/gifts/:id/approve
func (h *GiftHandler) ApproveGift(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	id, ok := giftID(c)
	if !ok {
		return
	}
	var req struct {
		Spender string `json:"spender"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var spender common.Address
	if req.Spender != "" {
		if spender, ok = parseAddress(c, "spender", req.Spender); !ok {
			return
		}
	}
	if err := h.owners.Approve(c, caller, id, spender); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "approved": spender.Hex()})
}

// POST /api/operators
func (h *GiftHandler) SetOperator(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req struct {
		Operator string `json:"operator" binding:"required"`
		Approved bool   `json:"approved"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	operator, ok := parseAddress(c, "operator", req.Operator)
	if !ok {
		return
	}
	if err := h.owners.SetApprovalForAll(c, caller, operator, req.Approved); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": caller.Hex(), "operator": operator.Hex(), "approved": req.Approved})
}

func (h *GiftHandler) view(c *gin.Context, g *model.Gift, owner common.Address) (giftView, error) {
	withdrawable, err := h.ledger.Withdrawable(c, g.GiftID)
	if err != nil {
		return giftView{}, err
	}
	v := giftView{
		ID:           g.GiftID,
		Owner:        owner.Hex(),
		Asset:        g.Asset,
		Name:         g.Name,
		Message:      g.Message,
		URL:          g.URL,
		Deposited:    g.Deposited,
		Withdrawn:    g.Withdrawn,
		Remaining:    g.Remaining,
		Withdrawable: withdrawable.Dec(),
		StartTime:    g.StartTime,
		Duration:     g.Duration,
		EndTime:      g.Schedule().End(),
	}
	if asset, err := h.custody.Lookup(common.HexToAddress(g.Asset)); err == nil {
		v.Symbol = asset.Symbol()
		v.RemainingDisplay = display(model.ParseAmount(g.Remaining), asset.Decimals())
	}
	return v, nil
}

// display renders amount in whole units of an asset with decimals places.
func display(amount *uint256.Int, decimals int32) string {
	return decimal.NewFromBigInt(amount.ToBig(), -decimals).String()
}

func (h *GiftHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientUnlocked):
		status = http.StatusConflict
	case errors.Is(err, service.ErrTransferFailed):
		status = http.StatusPaymentRequired
	case errors.Is(err, service.ErrOverflow), errors.Is(err, service.ErrUnderflow),
		errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidAddress),
		errors.Is(err, custody.ErrMintToCustody):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func callerOf(c *gin.Context) (common.Address, bool) {
	return parseAddress(c, CallerHeader, c.GetHeader(CallerHeader))
}

func parseAddress(c *gin.Context, field, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + field})
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseAmount(c *gin.Context, s string) (*uint256.Int, bool) {
	if s == "" {
		return new(uint256.Int), true
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrInvalidAmount.Error() + ": " + err.Error()})
		return nil, false
	}
	return v, true
}

func giftID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gift id"})
		return 0, false
	}
	return id, true
}
