package client

import "context"

// NoIndex is the cursor position before the first row.
const NoIndex = -1

// Cursor positions run from NoIndex (before the first row) through the
// buffered rows to len(rows), which means after the last row and is only
// reachable once the native cursor reported exhaustion. Only Next fetches
// from the engine, and only when it has to move past the buffer; every other
// movement re-indexes rows already fetched.

// Position returns the current cursor position.
func (rs *ResultSet) Position() int {
	return rs.pos
}

// Len returns the number of rows fetched so far.
func (rs *ResultSet) Len() int {
	return len(rs.rows)
}

// Exhausted reports whether the native cursor has no more rows.
func (rs *ResultSet) Exhausted() bool {
	return rs.finished
}

// Next moves to the following row, fetching it when it is not buffered yet.
func (rs *ResultSet) Next(ctx context.Context) (bool, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return false, err
	}
	if rs.pos+1 < len(rs.rows) {
		rs.pos++
		return true, nil
	}
	ok, err := rs.fetchOne(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		rs.pos = len(rs.rows) - 1
		return true, nil
	}
	rs.pos = len(rs.rows)
	return false, nil
}

// Previous moves back one buffered row.
func (rs *ResultSet) Previous() (bool, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return false, err
	}
	if rs.pos <= NoIndex {
		return false, nil
	}
	rs.pos--
	return rs.pos > NoIndex, nil
}

// To moves to row i, stepping with Next or Previous until it gets there or
// hits a boundary. It reports whether the cursor ended up on row i.
func (rs *ResultSet) To(ctx context.Context, i int) (bool, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return false, err
	}
	if i < NoIndex {
		i = NoIndex
	}
	for rs.pos < i {
		ok, err := rs.Next(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	for rs.pos > i {
		if _, err := rs.Previous(); err != nil {
			return false, err
		}
	}
	return rs.onRow(), nil
}

// First moves to the first row.
func (rs *ResultSet) First(ctx context.Context) (bool, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return false, err
	}
	rs.pos = NoIndex
	return rs.Next(ctx)
}

// Last fetches every remaining row and moves to the final one.
func (rs *ResultSet) Last(ctx context.Context) (bool, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return false, err
	}
	for {
		ok, err := rs.fetchOne(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
	}
	if len(rs.rows) == 0 {
		rs.pos = len(rs.rows)
		return false, nil
	}
	rs.pos = len(rs.rows) - 1
	return true, nil
}

// IsBeforeFirst reports whether the cursor sits before a first row. It may
// fetch one row to learn whether the result set is empty; the position is
// unchanged.
func (rs *ResultSet) IsBeforeFirst(ctx context.Context) (bool, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return false, err
	}
	if rs.pos != NoIndex {
		return false, nil
	}
	if len(rs.rows) > 0 {
		return true, nil
	}
	return rs.fetchOne(ctx)
}

// IsAfterLast reports whether the cursor has moved past the final row of a
// non-empty result set.
func (rs *ResultSet) IsAfterLast() (bool, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return false, err
	}
	return rs.finished && len(rs.rows) > 0 && rs.pos == len(rs.rows), nil
}

// IsFirst reports whether the cursor is on the first row.
func (rs *ResultSet) IsFirst() (bool, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return false, err
	}
	return rs.pos == 0 && len(rs.rows) > 0, nil
}

// IsLast reports whether the cursor is on the final row. It may fetch one
// row ahead to find out; the position is unchanged.
func (rs *ResultSet) IsLast(ctx context.Context) (bool, error) {
	if _, err := rs.h.get("result set"); err != nil {
		return false, err
	}
	if !rs.onRow() || rs.pos < len(rs.rows)-1 {
		return false, nil
	}
	more, err := rs.fetchOne(ctx)
	if err != nil {
		return false, err
	}
	return !more, nil
}

func (rs *ResultSet) onRow() bool {
	return rs.pos >= 0 && rs.pos < len(rs.rows)
}
