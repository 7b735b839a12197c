package rpc

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"investpool/crypto"
	"investpool/native/loan"
)

type depositParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type withdrawParams struct {
	From   string `json:"from"`
	Shares string `json:"shares"`
}

type requestLoanParams struct {
	Borrower     string `json:"borrower"`
	Principal    string `json:"principal"`
	DurationDays uint64 `json:"durationDays"`
	Purpose      string `json:"purpose"`
	Collateral   string `json:"collateral"`
}

type loanActionParams struct {
	Caller string `json:"caller"`
}

type repayParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type fundParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var params depositParams
	if err := s.decode(r, &params); err != nil {
		writeBadRequest(w, err)
		return
	}
	depositor, err := parseAddressParam(params.From)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	minted, err := s.ledger.Deposit(depositor, amount)
	var result any
	if err == nil {
		result = map[string]string{"shares": minted.String()}
	}
	s.operation(w, "deposit", err, result)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var params withdrawParams
	if err := s.decode(r, &params); err != nil {
		writeBadRequest(w, err)
		return
	}
	depositor, err := parseAddressParam(params.From)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	shares, err := parseAmount(params.Shares)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	payout, err := s.ledger.Withdraw(depositor, shares)
	var result any
	if err == nil {
		result = map[string]string{"payout": payout.String()}
	}
	s.operation(w, "withdraw", err, result)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, _ *http.Request) {
	snapshot, err := s.ledger.PoolSnapshot()
	if err != nil {
		s.writeError(w, "pool_stats", err)
		return
	}
	count, err := s.ledger.LoanCount()
	if err != nil {
		s.writeError(w, "pool_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"cashBalance":          snapshot.CashBalance.String(),
		"totalShares":          snapshot.TotalShares.String(),
		"outstandingPrincipal": snapshot.OutstandingPrincipal.String(),
		"totalPoolValue":       snapshot.TotalValue().String(),
		"availableLiquidity":   snapshot.CashBalance.String(),
		"totalLoaned":          snapshot.TotalLoaned.String(),
		"totalRepaid":          snapshot.TotalRepaid.String(),
		"loanCount":            strconv.FormatUint(count, 10),
	})
}

func (s *Server) handleShares(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	shares, err := s.ledger.SharesOf(addr)
	if err != nil {
		s.writeError(w, "shares_of", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String()})
}

func (s *Server) handleRequestLoan(w http.ResponseWriter, r *http.Request) {
	var params requestLoanParams
	if err := s.decode(r, &params); err != nil {
		writeBadRequest(w, err)
		return
	}
	borrower, err := parseAddressParam(params.Borrower)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	principal, err := parseAmount(params.Principal)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	collateral, err := parseAmount(params.Collateral)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := s.ledger.RequestLoan(borrower, principal, params.DurationDays, params.Purpose, collateral)
	var result any
	if err == nil {
		result = map[string]string{"id": strconv.FormatUint(id, 10)}
	}
	s.operation(w, "request_loan", err, result)
}

func (s *Server) handleLoanList(w http.ResponseWriter, r *http.Request) {
	borrowerParam := r.URL.Query().Get("borrower")
	if borrowerParam == "" {
		writeBadRequest(w, fmt.Errorf("borrower query parameter required"))
		return
	}
	borrower, err := parseAddressParam(borrowerParam)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ids, err := s.ledger.LoanIDsOf(borrower)
	if err != nil {
		s.writeError(w, "loan_ids_of", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

func (s *Server) handleLoanByID(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	record, err := s.ledger.LoanByID(id)
	if err != nil {
		s.writeError(w, "loan_by_id", err)
		return
	}
	writeJSON(w, http.StatusOK, loanResponse(record))
}

func (s *Server) handleAmountOwed(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	owed, err := s.ledger.AmountOwed(id)
	if err != nil {
		s.writeError(w, "amount_owed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owed": owed.String()})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.loanAction(w, r, "approve_loan", s.ledger.ApproveLoan)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	s.loanAction(w, r, "deny_loan", s.ledger.DenyLoan)
}

func (s *Server) handleWithdrawLoan(w http.ResponseWriter, r *http.Request) {
	s.loanAction(w, r, "withdraw_loan", s.ledger.WithdrawLoan)
}

func (s *Server) handleDefault(w http.ResponseWriter, r *http.Request) {
	s.loanAction(w, r, "close_loan_as_default", s.ledger.CloseLoanAsDefault)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var params repayParams
	if err := s.decode(r, &params); err != nil {
		writeBadRequest(w, err)
		return
	}
	caller, err := parseAddressParam(params.Caller)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	collected, err := s.ledger.RepayLoan(caller, id, amount)
	var result any
	if err == nil {
		result = map[string]string{"collected": collected.String()}
	}
	s.operation(w, "repay_loan", err, result)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.ledger.BalanceOf(addr)
	if err != nil {
		s.writeError(w, "balance_of", err)
		return
	}
	shares, err := s.ledger.SharesOf(addr)
	if err != nil {
		s.writeError(w, "balance_of", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"balance": balance.String(),
		"shares":  shares.String(),
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var params fundParams
	if err := s.decode(r, &params); err != nil {
		writeBadRequest(w, err)
		return
	}
	caller, err := parseAddressParam(params.Caller)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	err = s.ledger.FundAccount(caller, addr, amount)
	var result any
	if err == nil {
		result = map[string]string{"status": "funded"}
	}
	s.operation(w, "fund_account", err, result)
}

func (s *Server) loanAction(w http.ResponseWriter, r *http.Request, op string, action func(caller crypto.Address, id uint64) error) {
	id, err := loanID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var params loanActionParams
	if err := s.decode(r, &params); err != nil {
		writeBadRequest(w, err)
		return
	}
	caller, err := parseAddressParam(params.Caller)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	err = action(caller, id)
	var result any
	if err == nil {
		record, lookupErr := s.ledger.LoanByID(id)
		if lookupErr == nil {
			result = loanResponse(record)
		} else {
			result = map[string]string{"status": "ok"}
		}
	}
	s.operation(w, op, err, result)
}

func loanID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid loan id %q", raw)
	}
	return id, nil
}

func loanResponse(record *loan.Loan) map[string]any {
	if record == nil {
		return nil
	}
	resp := map[string]any{
		"id":              record.ID,
		"borrower":        record.Borrower.Hex(),
		"principal":       record.Principal.String(),
		"durationDays":    record.DurationDays,
		"purpose":         record.Purpose,
		"collateral":      record.Collateral.String(),
		"status":          record.Status.String(),
		"interestRateBps": record.InterestRateBps,
		"requestedAt":     record.RequestedAt,
	}
	if record.WithdrawnAt != 0 {
		resp["withdrawnAt"] = record.WithdrawnAt
	}
	return resp
}
