package mock

//go:generate go run go.uber.org/mock/mockgen -package mock -destination clock.go github.com/buildbarn/bb-storage/pkg/clock Clock,Timer
//go:generate go run go.uber.org/mock/mockgen -package mock -destination layout.go github.com/buildbarn/bb-pnfs-door/pkg/layout PoolGateway,PlacementMetadataLookup,TransferOutcomeRecorder,LayoutBroker,MoverEventHandler,AbandonedSessionSweeper
//go:generate go run go.uber.org/mock/mockgen -package mock -destination util.go github.com/buildbarn/bb-pnfs-door/internal/mock/aliases UUIDGenerator,TeardownStep
