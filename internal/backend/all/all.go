// Package all 通过空导入把所有协议引擎的工厂注册进 backend 注册表，
// 入口程序与集成测试各自导入一次即可。
package all

import (
	_ "github.com/artifact-vault/artifact-vault/internal/backend/apt"
	_ "github.com/artifact-vault/artifact-vault/internal/backend/docker"
	_ "github.com/artifact-vault/artifact-vault/internal/backend/httpgen"
	_ "github.com/artifact-vault/artifact-vault/internal/backend/huggingface"
	_ "github.com/artifact-vault/artifact-vault/internal/backend/pypi"
)
