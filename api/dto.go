/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Amounts leave the API
  as fixed two-place strings ("155.00") and enter it as numbers or strings;
  dates are "YYYY-MM-DD".

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request structs carry validator tags for shape (required, oneof). Business
  rules stay in the billing package, which returns every message at once.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/billing"
)

func money(d decimal.Decimal) string { return d.StringFixed(billing.MoneyPlaces) }

// =============================================================================
// CLIENTS
// =============================================================================

type RatesDTO struct {
	BaseFee        string `json:"base_fee"`
	AddStateFee    string `json:"add_state_fee"`
	AddEmployeeFee string `json:"add_employee_fee"`
}

func toRatesDTO(r billing.Rates) RatesDTO {
	return RatesDTO{
		BaseFee:        money(r.BaseFee),
		AddStateFee:    money(r.AddStateFee),
		AddEmployeeFee: money(r.AddEmployeeFee),
	}
}

type ClientDTO struct {
	ID               billing.ClientID  `json:"id"`
	Name             string            `json:"name"`
	Frequency        billing.Frequency `json:"frequency"`
	Schedule         billing.Schedule  `json:"schedule"`
	Rates            RatesDTO          `json:"rates"`
	StatesInBase     int               `json:"states_in_base"`
	EmployeesInBase  int               `json:"employees_in_base"`
	SurchargeEnabled bool              `json:"surcharge_enabled"`
	SurchargeFee     string            `json:"surcharge_fee"`
	EscalationMode   string            `json:"escalation_mode"`
	EscalationPct    string            `json:"escalation_percent"`
	EffectiveDate    billing.Date      `json:"effective_date"`
	FutureRates      RatesDTO          `json:"future_rates"`
	AssignedUserID   *billing.UserID   `json:"assigned_user_id"`
	Terminated       bool              `json:"terminated"`
}

func toClientDTO(c billing.Client) ClientDTO {
	esc := c.Fees.Escalation
	return ClientDTO{
		ID:               c.ID,
		Name:             c.Name,
		Frequency:        c.Frequency,
		Schedule:         c.Schedule,
		Rates:            toRatesDTO(c.Fees.Rates),
		StatesInBase:     c.Fees.StatesInBase,
		EmployeesInBase:  c.Fees.EmployeesInBase,
		SurchargeEnabled: c.Fees.SurchargeEnabled,
		SurchargeFee:     money(c.Fees.SurchargeFee),
		EscalationMode:   string(esc.Mode),
		EscalationPct:    esc.Percent.String(),
		EffectiveDate:    esc.EffectiveDate,
		FutureRates:      toRatesDTO(esc.Future),
		AssignedUserID:   c.AssignedUserID,
		Terminated:       c.Terminated,
	}
}

type RatesRequest struct {
	BaseFee        decimal.Decimal `json:"base_fee"`
	AddStateFee    decimal.Decimal `json:"add_state_fee"`
	AddEmployeeFee decimal.Decimal `json:"add_employee_fee"`
}

func (r RatesRequest) rates() billing.Rates {
	return billing.Rates{BaseFee: r.BaseFee, AddStateFee: r.AddStateFee, AddEmployeeFee: r.AddEmployeeFee}
}

// ClientRequest creates or edits a client. Frequency accepts the legacy
// "semi-weekly" spelling.
type ClientRequest struct {
	Name              string          `json:"name"`
	Frequency         string          `json:"frequency"`
	PayStartDate      billing.Date    `json:"pay_start_date"`
	ProcessingDate    billing.Date    `json:"processing_date"`
	PayDate           billing.Date    `json:"pay_date"`
	Rates             RatesRequest    `json:"rates"`
	StatesInBase      int             `json:"states_in_base"`
	EmployeesInBase   int             `json:"employees_in_base"`
	SurchargeEnabled  bool            `json:"surcharge_enabled"`
	SurchargeFee      decimal.Decimal `json:"surcharge_fee"`
	EscalationMode    string          `json:"escalation_mode" validate:"omitempty,oneof=percent manual"`
	EscalationPercent decimal.Decimal `json:"escalation_percent"`
	FutureRates       RatesRequest    `json:"future_rates"`
	EffectiveDate     billing.Date    `json:"effective_date"`
	AssignedUserID    *billing.UserID `json:"assigned_user_id"`
}

type ReactivateRequest struct {
	EffectiveDate *billing.Date `json:"effective_date"`
}

type AssignUserRequest struct {
	UserID *billing.UserID `json:"user_id"`
}

// =============================================================================
// PERIODS AND TRANSACTIONS
// =============================================================================

type UsageDTO = billing.Usage

type PeriodRequest struct {
	PeriodType     string       `json:"period_type" validate:"required,oneof=regular additional"`
	Start          billing.Date `json:"start"`
	End            billing.Date `json:"end"`
	ProcessingDate billing.Date `json:"processing_date"`
	PayDate        billing.Date `json:"pay_date"`
	Usage          UsageDTO     `json:"usage"`
}

type PricingRequest struct {
	BaseFee         decimal.Decimal `json:"base_fee"`
	AddStateFee     decimal.Decimal `json:"add_state_fee"`
	AddEmployeeFee  decimal.Decimal `json:"add_employee_fee"`
	StatesInBase    int             `json:"states_in_base"`
	EmployeesInBase int             `json:"employees_in_base"`
}

type PeriodEditRequest struct {
	Start          billing.Date    `json:"start"`
	End            billing.Date    `json:"end"`
	ProcessingDate billing.Date    `json:"processing_date"`
	PayDate        billing.Date    `json:"pay_date"`
	Usage          UsageDTO        `json:"usage"`
	Pricing        *PricingRequest `json:"pricing"`
}

type SnapshotDTO struct {
	Frequency        billing.Frequency `json:"frequency"`
	Rates            RatesDTO          `json:"rates"`
	StatesInBase     int               `json:"states_in_base"`
	EmployeesInBase  int               `json:"employees_in_base"`
	SurchargeEnabled bool              `json:"surcharge_enabled"`
	SurchargeFee     string            `json:"surcharge_fee"`
}

type TransactionDTO struct {
	ID             billing.TransactionID `json:"id"`
	ClientID       billing.ClientID      `json:"client_id"`
	PeriodType     billing.PeriodType    `json:"period_type"`
	Start          billing.Date          `json:"start"`
	End            billing.Date          `json:"end"`
	ProcessingDate billing.Date          `json:"processing_date"`
	PayDate        billing.Date          `json:"pay_date"`
	Usage          UsageDTO              `json:"usage"`
	Snapshot       SnapshotDTO           `json:"snapshot"`
	Cost           string                `json:"cost"`
	Collected      string                `json:"collected"`
	CollectedDesc  string                `json:"collected_description"`
	CollectedDate  billing.Date          `json:"collected_date"`
	NetAmount      string                `json:"net_amount"`
}

func toTransactionDTO(tx billing.Transaction) TransactionDTO {
	s := tx.Snapshot
	return TransactionDTO{
		ID:             tx.ID,
		ClientID:       tx.ClientID,
		PeriodType:     tx.PeriodType,
		Start:          tx.Period.Start,
		End:            tx.Period.End,
		ProcessingDate: tx.ProcessingDate,
		PayDate:        tx.PayDate,
		Usage:          tx.Usage,
		Snapshot: SnapshotDTO{
			Frequency:        s.Frequency,
			Rates:            toRatesDTO(s.Rates),
			StatesInBase:     s.StatesInBase,
			EmployeesInBase:  s.EmployeesInBase,
			SurchargeEnabled: s.SurchargeEnabled,
			SurchargeFee:     money(s.SurchargeFee),
		},
		Cost:          money(tx.Cost),
		Collected:     money(tx.Collection.Collected),
		CollectedDesc: tx.Collection.Description,
		CollectedDate: tx.Collection.Date,
		NetAmount:     money(tx.NetAmount),
	}
}

func toTransactionDTOs(txs []billing.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

type PeriodResultDTO struct {
	Transaction  TransactionDTO    `json:"transaction"`
	NextSchedule *billing.Schedule `json:"next_schedule,omitempty"`
}

type PreviewDTO struct {
	Frequency billing.Frequency `json:"frequency"`
	Start     billing.Date      `json:"start"`
	End       billing.Date      `json:"end"`
	NextStart billing.Date      `json:"next_start"`
	Schedule  billing.Schedule  `json:"schedule"`
}

// =============================================================================
// COLLECTIONS AND REPORTS
// =============================================================================

type CollectionRowDTO struct {
	TransactionID  billing.TransactionID `json:"transaction_id"`
	ProcessingDate billing.Date          `json:"processing_date"`
	Cost           string                `json:"cost"`
	Collected      string                `json:"collected"`
	Description    string                `json:"description"`
	Date           billing.Date          `json:"date"`
	NetAmount      string                `json:"net_amount"`
}

// CollectionEditRequest keeps Date as raw text so a malformed value is
// reported per row instead of failing the whole body.
type CollectionEditRequest struct {
	TransactionID billing.TransactionID `json:"transaction_id" validate:"required"`
	Collected     decimal.Decimal       `json:"collected"`
	Description   string                `json:"description"`
	Date          string                `json:"date"`
}

type BalanceDTO struct {
	ClientID  billing.ClientID `json:"client_id"`
	NetAmount string           `json:"net_amount"`
}

type TotalsDTO struct {
	ClientID   billing.ClientID `json:"client_id"`
	ClientName string           `json:"client_name"`
	Cost       string           `json:"cost"`
	Collected  string           `json:"collected"`
	Net        string           `json:"net"`
}

func toTotalsDTOs(rows []billing.ClientTotals) []TotalsDTO {
	out := make([]TotalsDTO, len(rows))
	for i, r := range rows {
		out[i] = TotalsDTO{
			ClientID:   r.ClientID,
			ClientName: r.ClientName,
			Cost:       money(r.Cost),
			Collected:  money(r.Collected),
			Net:        money(r.Net),
		}
	}
	return out
}

type FeeIncreaseDTO struct {
	ClientID      billing.ClientID `json:"client_id"`
	ClientName    string           `json:"client_name"`
	EffectiveDate billing.Date     `json:"effective_date"`
	Rates         RatesDTO         `json:"rates"`
}

type RolloverStatusDTO struct {
	LastRun *billing.Date `json:"last_run"`
}

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID        billing.UserID `json:"id"`
	Name      string         `json:"name"`
	Role      billing.Role   `json:"role"`
	Email     string         `json:"email"`
	Permanent bool           `json:"permanent"`
}

func toUserDTO(u billing.User) UserDTO {
	return UserDTO{ID: u.ID, Name: u.Name, Role: u.Role, Email: u.Email, Permanent: u.Permanent}
}

type UserRequest struct {
	ID        billing.UserID `json:"id"`
	Name      string         `json:"name"`
	Role      billing.Role   `json:"role"`
	Email     string         `json:"email"`
	Password  string         `json:"password"`
	Permanent bool           `json:"permanent"`
}

func (r UserRequest) input() billing.UserInput {
	return billing.UserInput{
		ID: r.ID, Name: r.Name, Role: r.Role, Email: r.Email, Password: r.Password, Permanent: r.Permanent,
	}
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response. Errors lists every
// operator-facing validation message.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}
