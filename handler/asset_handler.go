package handler

import (
	"fmt"
	"net/http"

	"github.com/gift_custody/custody"
	"github.com/gift_custody/service"
	"github.com/gin-gonic/gin"
)

// GET /api/assets/:asset/balance/:account
func (h *GiftHandler) GetBalance(c *gin.Context) {
	book, ok := h.bookAsset(c)
	if !ok {
		return
	}
	account, ok := parseAddress(c, "account", c.Param("account"))
	if !ok {
		return
	}
	bal, err := book.BalanceOf(c, account)
	if err != nil {
		h.writeError(c, err)
		return
	}
	allowance, err := book.Allowance(c, account, h.custody.Account())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":     book.Handle().Hex(),
		"symbol":    book.Symbol(),
		"balance":   bal.Dec(),
		"display":   display(bal, book.Decimals()),
		"allowance": allowance.Dec(),
	})
}

// POST /api/assets/:asset/approve
func (h *GiftHandler) ApproveAsset(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	book, ok := h.bookAsset(c)
	if !ok {
		return
	}
	var req struct {
		Spender string `json:"spender"`
		Amount  string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spender := h.custody.Account()
	if req.Spender != "" {
		if spender, ok = parseAddress(c, "spender", req.Spender); !ok {
			return
		}
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	if err := book.Approve(c, caller, spender, amount); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": caller.Hex(), "spender": spender.Hex(), "amount": amount.Dec()})
}

// POST /api/assets/:asset/mint
func (h *GiftHandler) MintAsset(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	if !h.issuers.IsIssuer(c, caller) {
		h.writeError(c, service.ErrUnauthorized)
		return
	}
	book, ok := h.bookAsset(c)
	if !ok {
		return
	}
	var req struct {
		To     string `json:"to" binding:"required"`
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, ok := parseAddress(c, "to", req.To)
	if !ok {
		return
	}
	if to == h.custody.Account() {
		h.writeError(c, fmt.Errorf("%w: cannot mint to the custody account", service.ErrInvalidAddress))
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	if err := book.Mint(c, to, amount); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"to": to.Hex(), "amount": amount.Dec()})
}

func (h *GiftHandler) bookAsset(c *gin.Context) (*custody.BookAsset, bool) {
	handle, ok := parseAddress(c, "asset", c.Param("asset"))
	if !ok {
		return nil, false
	}
	asset, err := h.custody.Lookup(handle)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	book, ok := asset.(*custody.BookAsset)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset " + handle.Hex() + " is not held on the book"})
		return nil, false
	}
	return book, true
}
