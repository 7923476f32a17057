package persona

// Store 提供只读的评委查询。
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore 在启动时加载一次评委表，不提供修改接口。
type MemoryStore struct {
	items []Persona
	index map[string]int
}

// NewMemoryStore 使用给定的评委列表创建 MemoryStore。
func NewMemoryStore(items []Persona) *MemoryStore {
	store := &MemoryStore{
		items: append([]Persona(nil), items...),
		index: make(map[string]int, len(items)),
	}
	for i, item := range store.items {
		if _, exists := store.index[item.ID]; !exists {
			store.index[item.ID] = i
		}
	}
	return store
}

// List 按 Seed 顺序返回评委列表的副本。
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID 按 ID 查找评委。
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	i, ok := s.index[id]
	if !ok {
		return Persona{}, false
	}
	return s.items[i], true
}
