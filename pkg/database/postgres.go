package database

import (
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 连接池参数：定时任务和队列消费端并发写索引表，
// 连接数按照 worker 数量留了余量
const (
	maxIdleConns    = 8
	maxOpenConns    = 64
	connMaxLifetime = 30 * time.Minute
)

// InitDB 初始化数据库连接并执行自动迁移
// dsn: 数据库连接字符串
// models: 需要自动建表/迁移的结构体指针
func InitDB(dsn string, models ...interface{}) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		// 批处理会打大量 SQL，默认只输出告警
		Logger: logger.Default.LogMode(logger.Warn),
		// 重建/同步循环内部自己控制事务边界，单条写入不再额外包事务
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		log.Fatalf("[Database] 数据库连接失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("[Database] 获取底层 SQL DB 失败: %v", err)
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("[Database] 数据库不可达: %v", err)
	}
	log.Println("[Database] 数据库连接成功")

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			log.Fatalf("[Database] 自动迁移出错: %v", err)
		}
	}

	return db
}
