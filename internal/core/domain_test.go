package core

import (
	"errors"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestQuarterWindow(t *testing.T) {
	cases := []struct {
		year, quarter int
		first, last   string
	}{
		{2025, 1, "2025-01-01", "2025-03-31"},
		{2025, 2, "2025-04-01", "2025-06-30"},
		{2024, 3, "2024-07-01", "2024-09-30"},
		{2025, 4, "2025-10-01", "2025-12-31"},
	}
	for _, tc := range cases {
		first, last := QuarterWindow(tc.year, tc.quarter)
		if first.String() != tc.first || last.String() != tc.last {
			t.Fatalf("Q%d %d: got %s..%s", tc.quarter, tc.year, first, last)
		}
		if first.Quarter() != tc.quarter || last.Quarter() != tc.quarter {
			t.Fatalf("Q%d %d: window dates report wrong quarter", tc.quarter, tc.year)
		}
	}
}

func newExpense(amount string, applied bool, rate string) Entry {
	return Entry{
		Kind:   KindExpense,
		Amount: dec(amount),
		Date:   NewDate(2025, 3, 1),
		Status: StatusPending,
		Expense: &ExpenseDetails{
			Category:   "Software",
			VATApplied: applied,
			VATRate:    dec(rate),
		},
	}
}

func TestApplyVAT(t *testing.T) {
	e := newExpense("1000", true, "15")
	if err := e.ApplyVAT(); err != nil {
		t.Fatal(err)
	}
	if !e.Expense.VATAmount.Equal(dec("150")) || !e.Expense.TotalAmount.Equal(dec("1150")) {
		t.Fatalf("got vat=%s total=%s", e.Expense.VATAmount, e.Expense.TotalAmount)
	}
	if !e.Contribution().Equal(dec("1150")) {
		t.Fatalf("contribution = %s", e.Contribution())
	}

	e = newExpense("1000", false, "15")
	e.Expense.VATAmount = dec("999")
	if err := e.ApplyVAT(); err != nil {
		t.Fatal(err)
	}
	if !e.Expense.VATAmount.IsZero() || !e.Expense.TotalAmount.Equal(dec("1000")) {
		t.Fatalf("caller supplied VAT must be discarded, got vat=%s total=%s", e.Expense.VATAmount, e.Expense.TotalAmount)
	}
}

func TestIncomeContributesNothing(t *testing.T) {
	e := Entry{Kind: KindIncome, Amount: dec("500"), Income: &IncomeDetails{ClientName: "Acme"}}
	if !e.Contribution().IsZero() {
		t.Fatalf("income contribution = %s", e.Contribution())
	}
}

func TestEntryValidate(t *testing.T) {
	good := newExpense("10", true, "15")
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	income := Entry{
		Kind: KindIncome, Amount: dec("200"), Date: NewDate(2025, 1, 2), Status: StatusReceived,
		Income: &IncomeDetails{ClientName: "Acme", ClientEmail: "billing@acme.test"},
	}
	if err := income.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []func(e *Entry){
		func(e *Entry) { e.Amount = dec("-1") },
		func(e *Entry) { e.Amount = dec("1.001") },
		func(e *Entry) { e.Date = Date{} },
		func(e *Entry) { e.Status = StatusReceived },
		func(e *Entry) { e.Kind = "transfer" },
		func(e *Entry) { e.Income = &IncomeDetails{} },
		func(e *Entry) { e.Expense.VATRate = dec("-5") },
	}
	for i, mutate := range bads {
		e := newExpense("10", true, "15")
		mutate(&e)
		err := e.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}

	zeroIncome := income
	zeroIncome.Amount = dec("0")
	if err := zeroIncome.Validate(); err == nil {
		t.Fatal("income amount must be positive")
	}
	zeroIncome = income
	zeroIncome.Status = StatusPaid
	if err := zeroIncome.Validate(); err == nil {
		t.Fatal("paid is not an income status")
	}
}

func TestProjectValidate(t *testing.T) {
	p := Project{
		Name: "Website", Code: "TECH-001", DepartmentID: "d1", Budget: dec("10000"),
		StartDate: NewDate(2025, 1, 1), EndDate: NewDate(2025, 6, 30), Status: ProjectActive,
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := p
	bad.Code = "tech1"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected code format error")
	}
	bad = p
	bad.EndDate = NewDate(2024, 12, 31)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected end date error")
	}
}

func TestAllocationValidate(t *testing.T) {
	a := Allocation{DepartmentID: "d1", FiscalYear: 2025, Quarter: 2, Allocated: dec("100")}
	if err := a.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	for _, q := range []int{0, 5} {
		a.Quarter = q
		if err := a.Validate(); err == nil {
			t.Fatalf("quarter %d must be rejected", q)
		}
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err    error
		target error
	}{
		{&NotFoundError{Resource: "department", ID: "x"}, ErrNotFound},
		{&ValidationError{Field: "amount", Reason: "bad"}, ErrValidation},
		{&ConflictError{Resource: "allocation", Reason: "dup"}, ErrConflict},
		{&ConsistencyError{Op: "create", Err: Transient(errors.New("busy"))}, ErrConsistency},
		{&ConsistencyError{Op: "create", Err: Transient(errors.New("busy"))}, ErrTransient},
	}
	for i, tc := range cases {
		if !errors.Is(tc.err, tc.target) {
			t.Fatalf("case %d: %v does not match %v", i, tc.err, tc.target)
		}
	}
}
