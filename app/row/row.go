package row

// Entity names a source feed.
type Entity string

const (
	Customers Entity = "customers"
	Products  Entity = "products"
	Sales     Entity = "sales"
)

// Source column names recognized by the cleanser.
const (
	ColCustomerID       = "customer_id"
	ColFirstName        = "first_name"
	ColLastName         = "last_name"
	ColEmail            = "email"
	ColPhone            = "phone"
	ColCity             = "city"
	ColSegment          = "segment"
	ColRegistrationDate = "registration_date"
	ColProductID        = "product_id"
	ColProductName      = "product_name"
	ColCategory         = "category"
	ColPrice            = "price"
	ColStockQuantity    = "stock_quantity"
	ColOrderID          = "order_id"
	ColOrderItemID      = "order_item_id"
	ColOrderDate        = "order_date"
	ColQuantity         = "quantity"
	ColUnitPrice        = "unit_price"
	ColDiscountAmount   = "discount_amount"
	ColTotalAmount      = "total_amount"
	ColStatus           = "status"
	ColEffectiveDate    = "effective_date"
)

// Row is one loosely typed source record.
type Row struct {
	Entity Entity
	Line   int
	Fields map[string]Value
}

// Get returns the named cell, or Missing when the column is absent.
func (r Row) Get(col string) Value {
	if v, ok := r.Fields[col]; ok {
		return v
	}
	return MissingValue()
}

// State is where a row ended up in the pipeline.
type State string

const (
	StateRead                State = "Read"
	StateValidated           State = "Validated"
	StateRejected            State = "Rejected"
	StateDeduplicated        State = "Deduplicated"
	StateDroppedDuplicate    State = "DroppedDuplicate"
	StateKeyResolved         State = "KeyResolved"
	StateKeyResolutionFailed State = "KeyResolutionFailed"
	StateLoaded              State = "Loaded"
	StateLoadFailed          State = "LoadFailed"
)

// Rejection records a row that left the pipeline before being loaded.
type Rejection struct {
	Entity Entity
	Line   int
	Key    string
	State  State
	Reason Reason
	Err    error
}

// NewRejection derives the reason code from err.
func NewRejection(entity Entity, line int, key string, state State, err error) Rejection {
	return Rejection{
		Entity: entity,
		Line:   line,
		Key:    key,
		State:  state,
		Reason: ReasonOf(err),
		Err:    err,
	}
}

func (r Rejection) Message() string {
	if r.Err == nil {
		return string(r.Reason)
	}
	return r.Err.Error()
}

// Result is the tagged outcome of a stage for one row: either an accepted
// value or a rejection.
type Result[T any] struct {
	Line      int
	Value     T
	Repaired  int
	Rejection *Rejection
}

func Accept[T any](line int, v T, repaired int) Result[T] {
	return Result[T]{Line: line, Value: v, Repaired: repaired}
}

func Reject[T any](rej Rejection) Result[T] {
	return Result[T]{Line: rej.Line, Rejection: &rej}
}

func (r Result[T]) Accepted() bool { return r.Rejection == nil }
