package options

type Order string

const (
	Ascend  Order = "ASC"
	Descend Order = "DESC"
)

// QueryOptions narrows a point-in-time read of a workspace replica.
type QueryOptions struct {
	O      Order
	Px     string
	Author string
	Lim    int
}

func (qo *QueryOptions) SetOrder(o Order) *QueryOptions {
	qo.O = o
	return qo
}

// PathPrefix keeps only documents whose path starts with p.
func (qo *QueryOptions) PathPrefix(p string) *QueryOptions {
	qo.Px = p
	return qo
}

func (qo *QueryOptions) ByAuthor(address string) *QueryOptions {
	qo.Author = address
	return qo
}

// Limit caps the number of returned documents, 0 means no limit.
func (qo *QueryOptions) Limit(n int) *QueryOptions {
	qo.Lim = n
	return qo
}

func Query() *QueryOptions {
	return &QueryOptions{O: Ascend}
}
