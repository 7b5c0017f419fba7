package identifier

import "sort"

type key struct {
	class Class
	form  Form
}

// Collection is the mutable identifier set of one channel timeslot. Every
// change is echoed to the registered listener as a Notification, except the
// silent variants which are applied locally only.
//
// Collection is not safe for concurrent use; the owning channel serializes
// access.
type Collection struct {
	channel     string
	timeslot    int
	identifiers map[key]Identifier
	listener    func(Notification)
}

// NewCollection creates an empty collection for a channel timeslot.
func NewCollection(channel string, timeslot int) *Collection {
	return &Collection{
		channel:     channel,
		timeslot:    timeslot,
		identifiers: make(map[key]Identifier),
	}
}

// SetListener registers the function that receives update notifications.
func (c *Collection) SetListener(l func(Notification)) {
	c.listener = l
}

// Update adds or replaces the identifier with the same class and form and
// broadcasts an ADD. Re-adding an identical value is not broadcast.
func (c *Collection) Update(id Identifier) {
	k := key{id.Class, id.Form}
	if existing, ok := c.identifiers[k]; ok && existing == id {
		return
	}
	c.identifiers[k] = id
	c.notify(OperationAdd, id)
}

// SilentUpdate adds or replaces the identifier without broadcasting.
func (c *Collection) SilentUpdate(id Identifier) {
	c.identifiers[key{id.Class, id.Form}] = id
}

// Remove deletes the identifier and broadcasts a REMOVE if it was present.
func (c *Collection) Remove(id Identifier) {
	k := key{id.Class, id.Form}
	if _, ok := c.identifiers[k]; !ok {
		return
	}
	delete(c.identifiers, k)
	c.notify(OperationRemove, id)
}

// SilentRemove deletes the identifier without broadcasting.
func (c *Collection) SilentRemove(id Identifier) {
	delete(c.identifiers, key{id.Class, id.Form})
}

// RemoveClass deletes every identifier of the class, broadcasting a REMOVE
// for each.
func (c *Collection) RemoveClass(class Class) {
	for _, id := range c.Identifiers() {
		if id.Class == class {
			c.Remove(id)
		}
	}
}

// Apply applies a notification received from elsewhere.
func (c *Collection) Apply(n Notification) {
	switch n.Operation {
	case OperationAdd:
		c.Update(n.Identifier)
	case OperationSilentAdd:
		c.SilentUpdate(n.Identifier)
	case OperationRemove:
		c.Remove(n.Identifier)
	case OperationSilentRemove:
		c.SilentRemove(n.Identifier)
	}
}

// Get returns the identifier with the given class and form.
func (c *Collection) Get(class Class, form Form) (Identifier, bool) {
	id, ok := c.identifiers[key{class, form}]
	return id, ok
}

// Identifiers returns the identifiers sorted by class then form.
func (c *Collection) Identifiers() []Identifier {
	out := make([]Identifier, 0, len(c.identifiers))
	for _, id := range c.identifiers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Form < out[j].Form
	})
	return out
}

// BroadcastIdentifiers sends every identifier as an ADD so late listeners
// get a full snapshot.
func (c *Collection) BroadcastIdentifiers() {
	for _, id := range c.Identifiers() {
		c.notify(OperationAdd, id)
	}
}

// Timeslot returns the timeslot the collection belongs to.
func (c *Collection) Timeslot() int {
	return c.timeslot
}

func (c *Collection) notify(op Operation, id Identifier) {
	if c.listener == nil {
		return
	}
	c.listener(Notification{
		Channel:    c.channel,
		Timeslot:   c.timeslot,
		Operation:  op,
		Identifier: id,
	})
}
