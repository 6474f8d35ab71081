package net

// ownerKey identifies the resting orders a maker fill can belong to. Ids are
// caller assigned and may repeat, but orders sharing an id and a price sit in
// one level, oldest first, so the book fills them in submission order.
type ownerKey struct {
	id    uint64
	price uint64
}

// restingOwner remembers which session submitted a resting order, so that
// maker fills can be reported back to it.
type restingOwner struct {
	session  string
	quantity uint64
}

// owners tracks, per key, the resting orders in the same FIFO order the book
// keeps them.
//
// Only the session handler goroutine touches owners.
type owners map[ownerKey][]*restingOwner

func (o owners) rest(id, price, quantity uint64, session string) {
	key := ownerKey{id: id, price: price}
	o[key] = append(o[key], &restingOwner{session: session, quantity: quantity})
}

// fill records a maker fill against the oldest order for id at price and
// returns its session, if known.
func (o owners) fill(id, price, quantity uint64) (string, bool) {
	key := ownerKey{id: id, price: price}
	queue := o[key]
	if len(queue) == 0 {
		return "", false
	}

	front := queue[0]
	front.quantity -= min(quantity, front.quantity)
	if front.quantity == 0 {
		queue[0] = nil
		queue = queue[1:]
	}
	if len(queue) == 0 {
		delete(o, key)
	} else {
		o[key] = queue
	}
	return front.session, true
}
