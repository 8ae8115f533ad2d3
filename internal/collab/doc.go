package collab

// Doc is the opaque leaflet document: areas -> blocks -> offer. Only the
// path to a single offer is interpreted; every other field is carried
// through untouched.
type Doc map[string]any

// Clone returns a deep copy.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	return Doc(cloneMap(d))
}

// Offer resolves the offer at the given area/block position.
func (d Doc) Offer(areaIndex, blockIndex int) (map[string]any, bool) {
	_, _, block, ok := d.locate(areaIndex, blockIndex)
	if !ok {
		return nil, false
	}
	offer, ok := block["offer"].(map[string]any)
	if !ok || offer == nil {
		return nil, false
	}
	return offer, true
}

// WithOfferChanges shallow-merges changes into one offer and returns the new
// document. Only the area, block and offer on the path are copied; d itself
// is left untouched.
func (d Doc) WithOfferChanges(areaIndex, blockIndex int, changes map[string]any) (Doc, bool) {
	areas, area, block, ok := d.locate(areaIndex, blockIndex)
	if !ok {
		return nil, false
	}
	offer, ok := block["offer"].(map[string]any)
	if !ok || offer == nil {
		return nil, false
	}

	nextOffer := shallowCopy(offer)
	for field, value := range changes {
		nextOffer[field] = value
	}

	nextBlock := shallowCopy(block)
	nextBlock["offer"] = nextOffer

	blocks := area["blocks"].([]any)
	nextBlocks := append([]any(nil), blocks...)
	nextBlocks[blockIndex] = nextBlock

	nextArea := shallowCopy(area)
	nextArea["blocks"] = nextBlocks

	nextAreas := append([]any(nil), areas...)
	nextAreas[areaIndex] = nextArea

	next := Doc(shallowCopy(d))
	next["areas"] = nextAreas
	return next, true
}

func (d Doc) locate(areaIndex, blockIndex int) ([]any, map[string]any, map[string]any, bool) {
	areas, ok := d["areas"].([]any)
	if !ok || areaIndex < 0 || areaIndex >= len(areas) {
		return nil, nil, nil, false
	}
	area, ok := areas[areaIndex].(map[string]any)
	if !ok || area == nil {
		return nil, nil, nil, false
	}
	blocks, ok := area["blocks"].([]any)
	if !ok || blockIndex < 0 || blockIndex >= len(blocks) {
		return nil, nil, nil, false
	}
	block, ok := blocks[blockIndex].(map[string]any)
	if !ok || block == nil {
		return nil, nil, nil, false
	}
	return areas, area, block, true
}

func shallowCopy(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		if v == nil {
			return v
		}
		return cloneMap(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
