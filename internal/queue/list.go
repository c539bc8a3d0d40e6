package queue

import (
	"container/list"

	"offlinesync/internal/models"
)

// actionList is a FIFO of actions indexed by ID.
type actionList struct {
	order *list.List
	index map[string]*list.Element
}

func newActionList() *actionList {
	return &actionList{order: list.New(), index: make(map[string]*list.Element)}
}

// PushBack appends a; false means the ID is already present.
func (l *actionList) PushBack(a models.PendingAction) bool {
	if _, ok := l.index[a.ID]; ok {
		return false
	}
	l.index[a.ID] = l.order.PushBack(a)
	return true
}

// PushFrontAll puts actions, in their given order, ahead of everything already queued.
func (l *actionList) PushFrontAll(actions []models.PendingAction) {
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if _, ok := l.index[a.ID]; ok {
			continue
		}
		l.index[a.ID] = l.order.PushFront(a)
	}
}

func (l *actionList) Remove(id string) bool {
	el, ok := l.index[id]
	if !ok {
		return false
	}
	l.order.Remove(el)
	delete(l.index, id)
	return true
}

func (l *actionList) Contains(id string) bool {
	_, ok := l.index[id]
	return ok
}

func (l *actionList) Len() int {
	return l.order.Len()
}

func (l *actionList) Slice() []models.PendingAction {
	out := make([]models.PendingAction, 0, l.order.Len())
	for el := l.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(models.PendingAction))
	}
	return out
}
