package report

import (
	"context"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/multierr"
	"sync"
	"time"
	"tradeflow/internal/dao"
	"tradeflow/internal/model"
	"tradeflow/pkg/kafka"
	"tradeflow/pkg/recorder"
	"tradeflow/pkg/utils"
)

// 成交记录的下游：数据库、Kafka、本地文件
// 交易链路只写不读，失败只记日志

type Reporter interface {
	Report(ctx context.Context, rec *model.TradeRecord) error
}

var (
	node     *snowflake.Node
	nodeOnce sync.Once
)

// InitIDNode 多实例部署时每个实例使用不同的 nodeId
func InitIDNode(nodeId int64) error {
	n, err := snowflake.NewNode(nodeId)
	if err != nil {
		return err
	}
	node = n
	return nil
}

// NextID 成交记录 id
func NextID() int64 {
	nodeOnce.Do(func() {
		if node == nil {
			node, _ = snowflake.NewNode(1)
		}
	})
	return node.Generate().Int64()
}

type DBReporter struct {
	dao dao.TradeDao
}

func NewDBReporter(d dao.TradeDao) *DBReporter {
	return &DBReporter{dao: d}
}

func (r *DBReporter) Report(ctx context.Context, rec *model.TradeRecord) error {
	// 主键固定，重试不会插入重复记录
	return utils.Retry(ctx, 3, 200*time.Millisecond, true, func() error {
		return r.dao.CreateTrade(ctx, rec)
	})
}

type KafkaReporter struct {
	producer kafka.ProducerService
}

func NewKafkaReporter(p kafka.ProducerService) *KafkaReporter {
	return &KafkaReporter{producer: p}
}

// Report 以策略 key 作为消息 key，同一策略的事件保持顺序
func (r *KafkaReporter) Report(ctx context.Context, rec *model.TradeRecord) error {
	return r.producer.Produce(ctx, []byte(rec.StrategyKey), rec)
}

type FileReporter struct {
	recorder *recorder.JSONFileRecorder
}

func NewFileReporter(path string) *FileReporter {
	return &FileReporter{recorder: recorder.NewJSONFileRecorder(path)}
}

func (r *FileReporter) Report(ctx context.Context, rec *model.TradeRecord) error {
	return r.recorder.Record(rec)
}

// Multi 依次交给每个下游，某个失败不影响其余
type Multi []Reporter

func (m Multi) Report(ctx context.Context, rec *model.TradeRecord) error {
	var errs error
	for _, r := range m {
		errs = multierr.Append(errs, r.Report(ctx, rec))
	}
	return errs
}

// Nop 没有配置任何下游时使用
type Nop struct{}

func (Nop) Report(context.Context, *model.TradeRecord) error { return nil }
