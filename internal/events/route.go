package events

import "github.com/faciam-dev/widgetdeck/pkg/widgets"

// route is what sinks need to know about an event to place it.
type route struct {
	// context is the owning dashboard context of a widget change.
	context    string
	widgetType string
}

// routeOf extracts the widget context of e. Events replayed from the
// dead-letter queue carry their change decoded as a map.
func routeOf(e Event) route {
	switch d := e.Data.(type) {
	case widgets.Change:
		return route{context: d.Context, widgetType: d.TypeID}
	case *widgets.Change:
		if d != nil {
			return route{context: d.Context, widgetType: d.TypeID}
		}
	case map[string]any:
		c, _ := d["context"].(string)
		t, _ := d["type_id"].(string)
		return route{context: c, widgetType: t}
	}
	return route{}
}

// partitionKey keeps the changes of one dashboard in order. Other events
// spread by id.
func (r route) partitionKey(e Event) string {
	if r.context != "" {
		return r.context
	}
	return e.ID
}
